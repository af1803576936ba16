package alarm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/events"
	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

// fakeClock advances instantly on Sleep and cancels the run once the
// virtual time passes limit.
type fakeClock struct {
	now    time.Time
	limit  time.Time
	cancel context.CancelFunc
	slept  time.Duration
}

func newFakeClock(cancel context.CancelFunc, runFor time.Duration) *fakeClock {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeClock{now: start, limit: start.Add(runFor), cancel: cancel}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	c.slept += d
	if c.now.After(c.limit) {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

type step struct {
	res badge.Result
	err error
}

func id(s string) step {
	return step{res: badge.Result{Status: badge.Badge, ID: badge.ID(s), Frame: badge.Frame("\x02" + s + "\x03")}}
}

// scriptedSource replays steps, then reports NoData forever.
type scriptedSource struct {
	steps  []step
	i      int
	reads  int
	closes int
}

func (s *scriptedSource) Next() (badge.Result, error) {
	s.reads++
	if s.i >= len(s.steps) {
		return badge.Result{Status: badge.NoData}, nil
	}
	st := s.steps[s.i]
	s.i++
	return st.res, st.err
}

func (s *scriptedSource) Close() error { s.closes++; return nil }

func (s *scriptedSource) exhausted() bool { return s.i >= len(s.steps) }

type recordingNotifier struct {
	mu     sync.Mutex
	labels []string
	// at records the retry counter seen by the controller at each call.
	at func() int
	rc []int
}

func (n *recordingNotifier) Notify(_ context.Context, label string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.labels = append(n.labels, label)
	if n.at != nil {
		n.rc = append(n.rc, n.at())
	}
}

func (n *recordingNotifier) Labels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.labels...)
}

// recorder captures events and calls snap on every mode change.
type recorder struct {
	events []events.Event
	snap   func(events.Event)
}

func (r *recorder) Publish(ev events.Event) {
	r.events = append(r.events, ev)
	if ev.Kind == events.KindMode && r.snap != nil {
		r.snap(ev)
	}
}

func (r *recorder) modes() []string {
	var out []string
	for _, ev := range r.events {
		if ev.Kind == events.KindMode {
			out = append(out, ev.Mode)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	sim      *panel.Sim
	src      *scriptedSource
	opens    int
	notifier *recordingNotifier
	rec      *recorder
	c        *Controller
}

func newHarness(t *testing.T, runFor time.Duration, reg *registry.Registry, steps ...step) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{
		t:        t,
		ctx:      ctx,
		clock:    newFakeClock(cancel, runFor),
		sim:      panel.NewSim(logging.Discard()),
		src:      &scriptedSource{steps: steps},
		notifier: &recordingNotifier{},
		rec:      &recorder{},
	}
	c, err := New(Options{
		Panel: h.sim,
		OpenReader: func() (Source, error) {
			h.opens++
			return h.src, nil
		},
		Registry: reg,
		Notifier: h.notifier,
		Events:   h.rec,
		MaxTries: DefaultMaxTries,
		Now:      h.clock.Now,
		Sleep:    h.clock.Sleep,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	h.c = c
	h.notifier.at = func() int { return c.retries.n }
	return h
}

// pressOnce reports pressed for the first sample only.
func pressOnce() func() bool {
	pressed := false
	return func() bool {
		if pressed {
			return false
		}
		pressed = true
		return true
	}
}

func mustID(t *testing.T, s string) badge.ID {
	t.Helper()
	require.Len(t, s, badge.IDLen, fmt.Sprintf("fixture %q", s))
	return badge.ID(s)
}
