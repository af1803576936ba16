package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	BadgeFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "badge_frames_total",
		Help: "Badge frames processed, by outcome.",
	}, []string{"result"})
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_total",
		Help: "Alert conditions raised by the controller, by label.",
	}, []string{"label"})
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heartbeats_total",
		Help: "Liveness pulses emitted on the indicators.",
	})
	NotifySent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_sent_total",
		Help: "Notifications delivered by the notifier worker.",
	})
	NotifyDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_dropped_total",
		Help: "Notifications dropped because the notifier queue was full.",
	})
	Mode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alarm_mode",
		Help: "Current controller mode (0 standby, 1 arming, 2 armed, 3 disarming, 4 enrolling).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Badge frame outcome labels.
const (
	BadgeMatch     = "match"
	BadgeMismatch  = "mismatch"
	BadgeMalformed = "malformed"
	BadgeEnrolled  = "enrolled"
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialOpen  = "serial_open"
	ErrSerialRead  = "serial_read"
	ErrGPIOWrite   = "gpio_write"
	ErrEnrollWrite = "enroll_write"
	ErrNotify      = "notify"
	ErrCapture     = "capture"
	ErrMail        = "mail"
	ErrEventsWrite = "events_write"
	ErrEventsUp    = "events_upgrade"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
// mount, when non-nil, registers additional handlers on the same mux.
func StartHTTP(addr string, mount func(*http.ServeMux)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	if mount != nil {
		mount(mux)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("http_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localMatch      uint64
	localMismatch   uint64
	localMalformed  uint64
	localEnrolled   uint64
	localAlerts     uint64
	localHeartbeats uint64
	localSent       uint64
	localDropped    uint64
	localErrors     uint64
	localMode       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Matches    uint64
	Mismatches uint64
	Malformed  uint64
	Enrolled   uint64
	Alerts     uint64
	Heartbeats uint64
	NotifySent uint64
	Dropped    uint64
	Errors     uint64 // sum across error labels
	Mode       uint64
}

func Snap() Snapshot {
	return Snapshot{
		Matches:    atomic.LoadUint64(&localMatch),
		Mismatches: atomic.LoadUint64(&localMismatch),
		Malformed:  atomic.LoadUint64(&localMalformed),
		Enrolled:   atomic.LoadUint64(&localEnrolled),
		Alerts:     atomic.LoadUint64(&localAlerts),
		Heartbeats: atomic.LoadUint64(&localHeartbeats),
		NotifySent: atomic.LoadUint64(&localSent),
		Dropped:    atomic.LoadUint64(&localDropped),
		Errors:     atomic.LoadUint64(&localErrors),
		Mode:       atomic.LoadUint64(&localMode),
	}
}

// IncBadge records one processed badge frame under the given outcome label.
func IncBadge(result string) {
	BadgeFrames.WithLabelValues(result).Inc()
	switch result {
	case BadgeMatch:
		atomic.AddUint64(&localMatch, 1)
	case BadgeMismatch:
		atomic.AddUint64(&localMismatch, 1)
	case BadgeMalformed:
		atomic.AddUint64(&localMalformed, 1)
	case BadgeEnrolled:
		atomic.AddUint64(&localEnrolled, 1)
	}
}

func IncAlert(label string) {
	Alerts.WithLabelValues(label).Inc()
	atomic.AddUint64(&localAlerts, 1)
}

func IncHeartbeat() {
	Heartbeats.Inc()
	atomic.AddUint64(&localHeartbeats, 1)
}

func IncNotifySent() {
	NotifySent.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncNotifyDropped() {
	NotifyDropped.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetMode publishes the numeric controller mode.
func SetMode(m int) {
	Mode.Set(float64(m))
	atomic.StoreUint64(&localMode, uint64(m))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSerialOpen, ErrSerialRead, ErrGPIOWrite, ErrEnrollWrite,
		ErrNotify, ErrCapture, ErrMail, ErrEventsWrite, ErrEventsUp,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, lbl := range []string{BadgeMatch, BadgeMismatch, BadgeMalformed, BadgeEnrolled} {
		BadgeFrames.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
