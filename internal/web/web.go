// Package web exposes the controller status and a live event stream over
// HTTP. It is read-only: nothing served here can change the alarm mode.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-rfid-alarm/internal/alarm"
	"github.com/kstaniek/go-rfid-alarm/internal/events"
	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrUpgrade   = errors.New("ws_upgrade")
	ErrConnWrite = errors.New("ws_write")
	ErrTooMany   = errors.New("too many event clients")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

// StatusFunc returns the current controller snapshot.
type StatusFunc func() alarm.Status

// Server serves /status and /events.
type Server struct {
	status       StatusFunc
	hub          *events.Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	maxClients   int
	logger       *slog.Logger

	closing           chan struct{}
	closeOnce         sync.Once
	wg                sync.WaitGroup
	clients           atomic.Int64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
}

type Option func(*Server)

// New returns a Server reading snapshots from status and events from hub.
func New(status StatusFunc, hub *events.Hub, opts ...Option) *Server {
	s := &Server{
		status:       status,
		hub:          hub,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		logger:       logging.L(),
		closing:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithCheckOrigin overrides the same-origin check of the websocket upgrade.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// Mount registers the handlers on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
}

// Clients returns the number of connected event streams.
func (s *Server) Clients() int { return int(s.clients.Load()) }

// Totals returns how many event streams connected and disconnected so far.
func (s *Server) Totals() (connected, disconnected uint64) {
	return s.totalConnected.Load(), s.totalDisconnected.Load()
}

// Close ends every event stream and waits for their goroutines.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.logger.Debug("status_write_error", "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.maxClients > 0 && int(s.clients.Load()) >= s.maxClients {
		http.Error(w, ErrTooMany.Error(), http.StatusServiceUnavailable)
		s.logger.Warn("events_client_rejected", "remote", r.RemoteAddr, "max", s.maxClients)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		err = fmt.Errorf("%w: %v", ErrUpgrade, err)
		metrics.IncError(mapErrToMetric(err))
		s.logger.Debug("events_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.clients.Add(1)
	s.totalConnected.Add(1)
	sub := s.hub.Subscribe()
	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("events_client_connected")

	// The initial snapshot lets a client render without waiting for a change.
	st := s.status()
	hello := events.Event{Time: time.Now(), Kind: events.KindMode, Mode: st.Mode.String()}
	if err := s.write(conn, hello); err != nil {
		logger.Debug("events_write_error", "error", err)
	}

	// The request context ends with this handler; the stream outlives it.
	ctx, cancel := context.WithCancel(context.Background())
	s.wg.Add(2)
	go s.readLoop(conn, cancel)
	go s.writeLoop(ctx, conn, sub, logger)
}

// readLoop discards client messages; it exists to observe close frames.
func (s *Server) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *events.Subscriber, logger *slog.Logger) {
	defer s.wg.Done()
	defer func() {
		s.hub.Remove(sub)
		_ = conn.Close()
		s.clients.Add(-1)
		s.totalDisconnected.Add(1)
		logger.Info("events_client_disconnected")
	}()
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev := <-sub.Out:
			if err := s.write(conn, ev); err != nil {
				metrics.IncError(mapErrToMetric(err))
				logger.Debug("events_write_error", "error", err)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-sub.Closed:
			// Kicked by the hub for falling behind.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(s.writeTimeout))
			return
		case <-ctx.Done():
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(s.writeTimeout))
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrConnWrite, err)
	}
	return nil
}
