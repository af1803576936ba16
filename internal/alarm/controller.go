// Package alarm runs the arm/disarm state machine.
//
// A single goroutine (Run or Enroll) owns the mode, the retry counter, the
// registry and the serial channel. Other goroutines only read the Status
// snapshot or consume published events.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/events"
	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
	"github.com/kstaniek/go-rfid-alarm/internal/notify"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

// DefaultMaxTries is the number of mismatches tolerated before an alert.
const DefaultMaxTries = 3

// Timings holds every duration the controller uses. Zero fields take the
// DefaultTimings value.
type Timings struct {
	Poll           time.Duration // yield between loop iterations
	ArmDelay       time.Duration // grace period after the switch press
	ArmTick        time.Duration // countdown granularity, one pulse per tick
	Heartbeat      time.Duration // liveness pulse interval
	HeartbeatPulse time.Duration
	AlertPulse     time.Duration // after a motion trip
	DisarmPulse    time.Duration
	EnrollPulse    time.Duration // per frame and on exit of enrollment
	ReopenMin      time.Duration
	ReopenMax      time.Duration
}

// DefaultTimings mirrors the deployed hardware behavior.
var DefaultTimings = Timings{
	Poll:           10 * time.Millisecond,
	ArmDelay:       10 * time.Second,
	ArmTick:        500 * time.Millisecond,
	Heartbeat:      10 * time.Second,
	HeartbeatPulse: 100 * time.Millisecond,
	AlertPulse:     time.Second,
	DisarmPulse:    4 * time.Second,
	EnrollPulse:    2 * time.Second,
	ReopenMin:      20 * time.Millisecond,
	ReopenMax:      500 * time.Millisecond,
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Poll, d.Poll)
	fill(&t.ArmDelay, d.ArmDelay)
	fill(&t.ArmTick, d.ArmTick)
	fill(&t.Heartbeat, d.Heartbeat)
	fill(&t.HeartbeatPulse, d.HeartbeatPulse)
	fill(&t.AlertPulse, d.AlertPulse)
	fill(&t.DisarmPulse, d.DisarmPulse)
	fill(&t.EnrollPulse, d.EnrollPulse)
	fill(&t.ReopenMin, d.ReopenMin)
	fill(&t.ReopenMax, d.ReopenMax)
	return t
}

// Publisher receives controller events. *events.Hub implements it.
type Publisher interface {
	Publish(events.Event)
}

// Options configures a Controller.
type Options struct {
	Panel      panel.Panel
	OpenReader OpenFunc
	Registry   *registry.Registry
	Notifier   notify.Notifier
	Events     Publisher
	Timings    Timings
	// MaxTries is the mismatch budget; 0 alerts on the first mismatch.
	MaxTries int
	// Now and Sleep replace the wall clock in tests.
	Now    func() time.Time
	Sleep  panel.SleepFunc
	Logger *slog.Logger
}

var errNoPanel = errors.New("alarm: panel is required")

// Controller is the alarm state machine.
type Controller struct {
	p        panel.Panel
	open     OpenFunc
	reg      *registry.Registry
	notifier notify.Notifier
	pub      Publisher
	t        Timings
	maxTries int
	now      func() time.Time
	sleep    panel.SleepFunc
	log      *slog.Logger

	mode    Mode
	retries retryCounter
	status  atomic.Pointer[Status]
}

// New validates opts and returns an idle controller in Standby.
func New(opts Options) (*Controller, error) {
	if opts.Panel == nil {
		return nil, errNoPanel
	}
	if opts.OpenReader == nil {
		return nil, errors.New("alarm: badge reader opener is required")
	}
	if opts.MaxTries < 0 {
		return nil, fmt.Errorf("alarm: max tries %d is negative", opts.MaxTries)
	}
	c := &Controller{
		p:        opts.Panel,
		open:     opts.OpenReader,
		reg:      opts.Registry,
		notifier: opts.Notifier,
		pub:      opts.Events,
		t:        opts.Timings.withDefaults(),
		maxTries: opts.MaxTries,
		now:      opts.Now,
		sleep:    opts.Sleep,
		log:      logging.Or(opts.Logger),
	}
	if c.reg == nil {
		c.reg = registry.New()
	}
	if c.notifier == nil {
		c.notifier = logNotifier{c.log}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = panel.Sleep
	}
	c.status.Store(&Status{Mode: Standby, Since: c.now(), Registered: c.reg.Len()})
	return c, nil
}

// Status returns the latest snapshot. Safe for concurrent use.
func (c *Controller) Status() Status { return *c.status.Load() }

// Run cycles Standby, Arming and Armed until ctx is cancelled. On return
// the serial channel is closed and the indicators are driven low.
func (c *Controller) Run(ctx context.Context) error {
	ch := newChannel(c.open, c.t.ReopenMin, c.t.ReopenMax, c.log)
	defer c.shutdown(ch)
	c.log.Info("controller_started", "registered", c.reg.Len(), "max_tries", c.maxTries)
	for {
		if err := c.standby(ctx); err != nil {
			return err
		}
		if err := c.arming(ctx); err != nil {
			return err
		}
		if err := c.armed(ctx, ch); err != nil {
			return err
		}
	}
}

func (c *Controller) standby(ctx context.Context) error {
	c.setMode(Standby)
	hb := heartbeat{every: c.t.Heartbeat}
	hb.reset(c.now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.p.Switch() {
			c.log.Info("switch_pressed")
			return nil
		}
		if hb.due(c.now()) {
			if err := c.pulse(ctx, panel.IndicatorArmed, c.t.HeartbeatPulse); err != nil {
				return err
			}
		}
		if err := c.sleep(ctx, c.t.Poll); err != nil {
			return err
		}
	}
}

// arming is the exit grace period: one pulse per tick, no inputs sampled.
func (c *Controller) arming(ctx context.Context) error {
	c.setMode(Arming)
	ticks := int(c.t.ArmDelay / c.t.ArmTick)
	on := c.t.ArmTick / 2
	for i := 0; i < ticks; i++ {
		if err := c.pulse(ctx, panel.IndicatorArmed, on); err != nil {
			return err
		}
		if err := c.sleep(ctx, c.t.ArmTick-on); err != nil {
			return err
		}
	}
	return nil
}

// armed polls the badge channel and the motion sensors until a registered
// badge is read. It returns nil after disarming.
func (c *Controller) armed(ctx context.Context, ch *channel) error {
	c.retries.reset()
	c.setMode(Armed)
	hb := heartbeat{every: c.t.Heartbeat}
	hb.reset(c.now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.badgeStep(ctx, ch) {
			return c.disarm(ctx, ch)
		}
		if err := c.motionStep(ctx); err != nil {
			return err
		}
		if hb.due(c.now()) {
			metrics.IncHeartbeat()
			c.emit(events.Event{Kind: events.KindHeartbeat})
			if err := c.pulse(ctx, panel.IndicatorAlert, c.t.HeartbeatPulse); err != nil {
				return err
			}
		}
		if err := c.sleep(ctx, c.t.Poll); err != nil {
			return err
		}
	}
}

// badgeStep performs one bounded read and reports whether a registered
// badge was presented.
func (c *Controller) badgeStep(ctx context.Context, ch *channel) bool {
	res := ch.next(c.now())
	switch res.Status {
	case badge.NoData:
		return false
	case badge.Malformed:
		metrics.IncBadge(metrics.BadgeMalformed)
		c.log.Debug("badge_malformed", "bytes", len(res.Frame), "error", res.Err)
		return false
	}
	if c.reg.Contains(res.ID) {
		metrics.IncBadge(metrics.BadgeMatch)
		c.log.Info("badge_accepted", "badge", res.ID.Masked())
		c.emit(events.Event{Kind: events.KindBadge, Label: metrics.BadgeMatch, Badge: res.ID.Masked()})
		return true
	}
	n := c.retries.inc()
	metrics.IncBadge(metrics.BadgeMismatch)
	c.log.Warn("badge_rejected", "badge", res.ID.Masked(), "tries", n, "max_tries", c.maxTries)
	c.emit(events.Event{Kind: events.KindBadge, Label: metrics.BadgeMismatch, Badge: res.ID.Masked()})
	if c.retries.exceeded(c.maxTries) {
		c.alert(ctx, notify.LabelExceededTries)
		c.retries.reset()
	}
	c.updateStatus(func(s *Status) { s.Retries = c.retries.n })
	return false
}

// motionStep samples both sensors; either one tripped raises one alert.
func (c *Controller) motionStep(ctx context.Context) error {
	var tripped []string
	for _, s := range panel.Sensors {
		if c.p.Motion(s) {
			tripped = append(tripped, s.String())
		}
	}
	if len(tripped) == 0 {
		return nil
	}
	c.log.Warn("motion_detected", "sensors", tripped)
	for _, s := range tripped {
		c.emit(events.Event{Kind: events.KindMotion, Label: s})
	}
	c.alert(ctx, notify.LabelIntruder)
	return c.pulse(ctx, panel.IndicatorAlert, c.t.AlertPulse)
}

func (c *Controller) disarm(ctx context.Context, ch *channel) error {
	c.setMode(Disarming)
	c.retries.reset()
	c.updateStatus(func(s *Status) { s.Retries = 0 })
	err := c.pulse(ctx, panel.IndicatorArmed, c.t.DisarmPulse)
	ch.close()
	c.log.Info("alarm_disarmed")
	return err
}

func (c *Controller) alert(ctx context.Context, label string) {
	metrics.IncAlert(label)
	c.log.Warn("alert_raised", "label", label)
	now := c.now()
	c.updateStatus(func(s *Status) { s.LastAlert, s.LastAlertAt = label, now })
	c.emit(events.Event{Kind: events.KindAlert, Label: label})
	c.notifier.Notify(ctx, label)
}

// pulse reports only cancellation; GPIO write failures are logged and the
// loop carries on.
func (c *Controller) pulse(ctx context.Context, ind panel.Indicator, d time.Duration) error {
	err := panel.Pulse(ctx, c.p, ind, d, c.sleep)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	metrics.IncError(metrics.ErrGPIOWrite)
	c.log.Error("gpio_write_failed", "indicator", ind.String(), "error", err)
	return nil
}

func (c *Controller) setMode(m Mode) {
	prev := c.mode
	c.mode = m
	metrics.SetMode(int(m))
	now := c.now()
	c.updateStatus(func(s *Status) {
		s.Mode, s.Since = m, now
		s.Registered = c.reg.Len()
	})
	c.log.Info("mode_changed", "from", prev.String(), "to", m.String())
	c.emit(events.Event{Kind: events.KindMode, Mode: m.String()})
}

func (c *Controller) updateStatus(fn func(*Status)) {
	s := *c.status.Load()
	fn(&s)
	c.status.Store(&s)
}

func (c *Controller) emit(ev events.Event) {
	if c.pub == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	if ev.Mode == "" {
		ev.Mode = c.mode.String()
	}
	c.pub.Publish(ev)
}

func (c *Controller) shutdown(ch *channel) {
	ch.close()
	for _, ind := range []panel.Indicator{panel.IndicatorArmed, panel.IndicatorAlert} {
		if err := c.p.Set(ind, false); err != nil {
			c.log.Warn("gpio_write_failed", "indicator", ind.String(), "error", err)
		}
	}
	c.log.Info("controller_stopped", "mode", c.mode.String())
}

// logNotifier stands in when no notifier is wired.
type logNotifier struct{ log *slog.Logger }

func (n logNotifier) Notify(_ context.Context, label string) {
	n.log.Warn("notifier_missing", "label", label)
}
