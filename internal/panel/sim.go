package panel

import (
	"log/slog"
	"sync"

	"github.com/kstaniek/go-rfid-alarm/internal/logging"
)

// Change records one output transition on a Sim panel.
type Change struct {
	Indicator Indicator
	On        bool
}

// Sim is an in-memory panel for development machines and tests. Inputs are
// set by the caller (or computed by SwitchFunc/MotionFunc); outputs are
// recorded in order.
type Sim struct {
	mu      sync.Mutex
	sw      bool
	motion  [len(Sensors)]bool
	out     map[Indicator]bool
	changes []Change
	closed  bool
	log     *slog.Logger

	// SwitchFunc, when set, replaces the stored switch state.
	SwitchFunc func() bool
	// MotionFunc, when set, replaces the stored sensor state.
	MotionFunc func(Sensor) bool
}

// NewSim returns an idle Sim panel.
func NewSim(l *slog.Logger) *Sim {
	return &Sim{out: make(map[Indicator]bool), log: logging.Or(l)}
}

func (s *Sim) Switch() bool {
	s.mu.Lock()
	fn, v := s.SwitchFunc, s.sw
	s.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return v
}

func (s *Sim) Motion(id Sensor) bool {
	s.mu.Lock()
	fn := s.MotionFunc
	var v bool
	if int(id) < len(s.motion) {
		v = s.motion[id]
	}
	s.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return v
}

func (s *Sim) Set(ind Indicator, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out[ind] = on
	s.changes = append(s.changes, Change{Indicator: ind, On: on})
	s.log.Debug("sim_output", "indicator", ind.String(), "on", on)
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ind := range s.out {
		s.out[ind] = false
	}
	s.closed = true
	return nil
}

// SetSwitch sets the stored switch state.
func (s *Sim) SetSwitch(pressed bool) { s.mu.Lock(); s.sw = pressed; s.mu.Unlock() }

// SetMotion sets the stored state of one sensor.
func (s *Sim) SetMotion(id Sensor, tripped bool) {
	s.mu.Lock()
	s.motion[id] = tripped
	s.mu.Unlock()
}

// Output reports the current state of an indicator.
func (s *Sim) Output(ind Indicator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out[ind]
}

// Changes returns a copy of the recorded transitions.
func (s *Sim) Changes() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Change, len(s.changes))
	copy(out, s.changes)
	return out
}

// Pulses counts rising edges on ind.
func (s *Sim) Pulses(ind Indicator) int {
	n := 0
	for _, c := range s.Changes() {
		if c.Indicator == ind && c.On {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
