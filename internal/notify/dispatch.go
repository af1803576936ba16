package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
)

// Notifier is what the controller calls on an alert condition. It must not
// block the caller and does not report delivery.
type Notifier interface {
	Notify(ctx context.Context, label string)
}

// Alert is one queued notification.
type Alert struct {
	Label string
	Time  time.Time
}

// SendFunc delivers one alert; it runs on the dispatcher goroutine.
type SendFunc func(ctx context.Context, a Alert) error

var (
	// ErrQueueFull is returned by Enqueue when the worker is behind.
	ErrQueueFull = errors.New("notify queue full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("notify dispatcher closed")
)

// Dispatcher runs alert delivery on one worker goroutine so slow capture and
// mail never stall the control loop. Enqueue never blocks: with the queue
// full the alert is dropped and OnDrop decides the returned error.
//
//	d := NewDispatcher(ctx, 4, alerter.Send, DefaultHooks(l))
//	d.Notify(ctx, "Alarm")
//	d.Close()
//
// Close interrupts the alert being delivered. That alert and every alert
// still waiting in the queue are handed to OnDiscard, so shutdown never
// loses an alarm silently.
type Dispatcher struct {
	send  SendFunc
	hooks Hooks

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	mu      sync.Mutex // guards pending and closing
	pending chan Alert
	closing bool
}

// Hooks customize Dispatcher behavior. Nil hooks are skipped.
type Hooks struct {
	// OnError is called when delivery fails while the dispatcher is open.
	OnError func(Alert, error)
	// OnAfter is called after a successful delivery.
	OnAfter func(Alert)
	// OnDrop is called when the queue is full; its error is returned from
	// Enqueue.
	OnDrop func(Alert) error
	// OnDiscard is called during Close for each alert that was not
	// delivered.
	OnDiscard func(Alert)
}

// DefaultHooks logs and counts every outcome.
func DefaultHooks(l *slog.Logger) Hooks {
	l = logging.Or(l)
	return Hooks{
		OnError: func(a Alert, err error) {
			metrics.IncError(metrics.ErrNotify)
			l.Error("notify_failed", "label", a.Label, "error", err)
		},
		OnAfter: func(a Alert) {
			metrics.IncNotifySent()
			l.Info("notify_sent", "label", a.Label, "latency", time.Since(a.Time).Round(time.Millisecond))
		},
		OnDrop: func(a Alert) error {
			metrics.IncNotifyDropped()
			l.Warn("notify_dropped", "label", a.Label)
			return ErrQueueFull
		},
		OnDiscard: func(a Alert) {
			metrics.IncNotifyDropped()
			l.Warn("notify_discarded", "label", a.Label, "raised_at", a.Time)
		},
	}
}

// NewDispatcher starts the worker with room for buf pending alerts.
func NewDispatcher(parent context.Context, buf int, send SendFunc, hooks Hooks) *Dispatcher {
	if buf <= 0 {
		buf = 1
	}
	ctx, stop := context.WithCancel(parent)
	d := &Dispatcher{
		send:    send,
		hooks:   hooks,
		ctx:     ctx,
		stop:    stop,
		done:    make(chan struct{}),
		pending: make(chan Alert, buf),
	}
	go d.deliver()
	return d
}

// deliver runs until pending is closed. Once the dispatcher is stopping,
// remaining alerts are discarded rather than sent.
func (d *Dispatcher) deliver() {
	defer close(d.done)
	for a := range d.pending {
		if d.ctx.Err() != nil {
			d.discard(a)
			continue
		}
		err := d.send(d.ctx, a)
		switch {
		case err == nil:
			if d.hooks.OnAfter != nil {
				d.hooks.OnAfter(a)
			}
		case d.ctx.Err() != nil:
			d.discard(a)
		case d.hooks.OnError != nil:
			d.hooks.OnError(a, err)
		}
	}
}

func (d *Dispatcher) discard(a Alert) {
	if d.hooks.OnDiscard != nil {
		d.hooks.OnDiscard(a)
	}
}

// Enqueue queues an alert, returns ErrClosed after Close, or returns the
// OnDrop error when the queue is full.
func (d *Dispatcher) Enqueue(a Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrClosed
	}
	select {
	case d.pending <- a:
		return nil
	default:
		if d.hooks.OnDrop != nil {
			return d.hooks.OnDrop(a)
		}
		return nil
	}
}

// Notify implements Notifier. Drops are reported through the hooks.
func (d *Dispatcher) Notify(_ context.Context, label string) {
	_ = d.Enqueue(Alert{Label: label, Time: time.Now()})
}

// Close refuses new alerts, interrupts delivery and waits until every
// undelivered alert has been reported through OnDiscard. It is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closing = true
	d.stop()
	close(d.pending)
	d.mu.Unlock()
	<-d.done
}
