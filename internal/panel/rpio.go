//go:build linux

package panel

import (
	"fmt"
	"strconv"
	"strings"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// RPIO drives the panel through /dev/gpiomem with BCM pin numbers.
type RPIO struct {
	w      Wiring
	out    map[Indicator]rpio.Pin
	motion [len(Sensors)]rpio.Pin
	sw     rpio.Pin
}

// OpenRPIO maps the GPIO registers and configures every wired pin.
func OpenRPIO(w Wiring) (*RPIO, error) {
	pins := map[string]string{
		"armed": w.Armed, "alert": w.Alert, "motion1": w.Motion1,
		"motion2": w.Motion2, "switch": w.Switch,
	}
	nums := make(map[string]int, len(pins)+1)
	for name, v := range pins {
		n, err := bcm(v)
		if err != nil {
			return nil, fmt.Errorf("%s pin: %w", name, err)
		}
		nums[name] = n
	}
	if w.Lamp != "" {
		n, err := bcm(w.Lamp)
		if err != nil {
			return nil, fmt.Errorf("lamp pin: %w", err)
		}
		nums["lamp"] = n
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("rpio open: %w", err)
	}
	p := &RPIO{
		w: w,
		out: map[Indicator]rpio.Pin{
			IndicatorArmed: rpio.Pin(nums["armed"]),
			IndicatorAlert: rpio.Pin(nums["alert"]),
		},
		motion: [len(Sensors)]rpio.Pin{rpio.Pin(nums["motion1"]), rpio.Pin(nums["motion2"])},
		sw:     rpio.Pin(nums["switch"]),
	}
	if n, ok := nums["lamp"]; ok {
		p.out[IndicatorLamp] = rpio.Pin(n)
	}
	for _, pin := range p.out {
		pin.Output()
		pin.Low()
	}
	for _, pin := range p.motion {
		pin.Input()
		rpioPull(pin, w.MotionPull)
	}
	p.sw.Input()
	rpioPull(p.sw, w.SwitchPull)
	return p, nil
}

func (p *RPIO) Switch() bool { return p.w.SwitchActive.Active(p.sw.Read() == rpio.High) }

func (p *RPIO) Motion(s Sensor) bool {
	return p.w.MotionActive.Active(p.motion[s].Read() == rpio.High)
}

func (p *RPIO) Set(ind Indicator, on bool) error {
	pin, ok := p.out[ind]
	if !ok {
		return nil
	}
	if on {
		pin.High()
	} else {
		pin.Low()
	}
	return nil
}

func (p *RPIO) Close() error {
	for _, pin := range p.out {
		pin.Low()
	}
	return rpio.Close()
}

func rpioPull(pin rpio.Pin, pull Pull) {
	switch pull {
	case PullUp:
		pin.PullUp()
	case PullDown:
		pin.PullDown()
	default:
		pin.PullOff()
	}
}

// bcm accepts "17", "GPIO17" or "BCM17".
func bcm(s string) (int, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(strings.TrimPrefix(v, "GPIO"), "BCM")
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 53 {
		return 0, fmt.Errorf("invalid BCM pin %q", s)
	}
	return n, nil
}
