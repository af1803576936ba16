// Package panel abstracts the digital I/O of the alarm: one arm/disarm switch,
// two motion sensors and the indicator outputs.
//
// Input polarity and pull resistors are part of the Wiring, never of the
// backend: the same board code serves pull-up and pull-down switch wiring.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Indicator names an output.
type Indicator int

const (
	// IndicatorArmed is the armed/ok (green) LED.
	IndicatorArmed Indicator = iota
	// IndicatorAlert is the alert (red) LED.
	IndicatorAlert
	// IndicatorLamp lights the scene for the cameras. Optional.
	IndicatorLamp
)

func (i Indicator) String() string {
	switch i {
	case IndicatorArmed:
		return "armed"
	case IndicatorAlert:
		return "alert"
	case IndicatorLamp:
		return "lamp"
	default:
		return fmt.Sprintf("indicator(%d)", int(i))
	}
}

// Sensor names a motion input.
type Sensor int

const (
	Motion1 Sensor = iota
	Motion2
)

// Sensors lists every motion input.
var Sensors = [...]Sensor{Motion1, Motion2}

func (s Sensor) String() string { return fmt.Sprintf("motion%d", int(s)+1) }

// Panel is the I/O surface the controller drives. Implementations are used
// from a single goroutine.
type Panel interface {
	// Switch samples the arm/disarm switch; true means pressed.
	Switch() bool
	// Motion samples one motion sensor; true means tripped.
	Motion(Sensor) bool
	// Set drives an indicator.
	Set(Indicator, bool) error
	// Close drives all outputs low and releases the hardware.
	Close() error
}

// Level is the electrical level that means "active" for an input.
type Level int

const (
	ActiveHigh Level = iota
	ActiveLow
)

// ParseLevel accepts "high" or "low".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "":
		return ActiveHigh, nil
	case "low":
		return ActiveLow, nil
	default:
		return ActiveHigh, fmt.Errorf("invalid active level %q (use high|low)", s)
	}
}

// Active maps a raw pin level to the logical state.
func (l Level) Active(high bool) bool {
	if l == ActiveLow {
		return !high
	}
	return high
}

func (l Level) String() string {
	if l == ActiveLow {
		return "low"
	}
	return "high"
}

// Pull selects the internal bias resistor of an input.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// ParsePull accepts "up", "down" or "none".
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return PullNone, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	default:
		return PullNone, fmt.Errorf("invalid pull %q (use up|down|none)", s)
	}
}

// Wiring maps the logical I/O onto board pins. Pin names are backend
// specific: BCM numbers for rpio, gpioreg names for periph.
type Wiring struct {
	Armed   string
	Alert   string
	Lamp    string // empty disables the lamp
	Motion1 string
	Motion2 string
	Switch  string

	SwitchActive Level
	SwitchPull   Pull
	MotionActive Level
	MotionPull   Pull
}

// ErrUnsupported is returned by backends that cannot run on this platform.
var ErrUnsupported = errors.New("gpio backend unsupported on this platform")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pulse drives ind high for d, then low. The indicator is driven low even
// when ctx ends the wait early; the context error is returned in that case.
func Pulse(ctx context.Context, p Panel, ind Indicator, d time.Duration, sleep SleepFunc) error {
	if sleep == nil {
		sleep = Sleep
	}
	if err := p.Set(ind, true); err != nil {
		return fmt.Errorf("pulse %s: %w", ind, err)
	}
	serr := sleep(ctx, d)
	if err := p.Set(ind, false); err != nil {
		return fmt.Errorf("pulse %s: %w", ind, err)
	}
	return serr
}
