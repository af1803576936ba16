package alarm

import (
	"fmt"
	"time"
)

// Mode is the controller state. Standby and Armed are stable, Arming and
// Disarming are transient. Enrolling is only entered through Enroll.
type Mode int

const (
	Standby Mode = iota
	Arming
	Armed
	Disarming
	Enrolling
)

func (m Mode) String() string {
	switch m {
	case Standby:
		return "standby"
	case Arming:
		return "arming"
	case Armed:
		return "armed"
	case Disarming:
		return "disarming"
	case Enrolling:
		return "enrolling"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Status is a read-only snapshot of the controller for observers.
type Status struct {
	Mode        Mode      `json:"mode"`
	Since       time.Time `json:"since"`
	Retries     int       `json:"retries"`
	Registered  int       `json:"registered"`
	LastAlert   string    `json:"last_alert,omitempty"`
	LastAlertAt time.Time `json:"last_alert_at,omitzero"`
}

// retryCounter counts consecutive non-matching badges.
type retryCounter struct{ n int }

func (r *retryCounter) inc() int { r.n++; return r.n }

// exceeded reports whether more than max mismatches were seen.
func (r *retryCounter) exceeded(max int) bool { return r.n > max }

func (r *retryCounter) reset() { r.n = 0 }

// heartbeat throttles liveness pulses to one per interval.
type heartbeat struct {
	every time.Duration
	last  time.Time
}

func (h *heartbeat) reset(now time.Time) { h.last = now }

// due reports whether more than the interval passed and, if so, restarts it.
func (h *heartbeat) due(now time.Time) bool {
	if now.Sub(h.last) <= h.every {
		return false
	}
	h.last = now
	return true
}
