//go:build !linux

package panel

import "fmt"

// RPIO is unavailable off linux.
type RPIO struct{ Sim }

// Placeholder so non-linux builds compile; /dev/gpiomem does not exist here.
func OpenRPIO(w Wiring) (*RPIO, error) {
	return nil, fmt.Errorf("rpio: %w", ErrUnsupported)
}
