package panel

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Periph drives the panel through periph.io. Pins are looked up by their
// registry name, which covers Allwinner boards ("PA7", "PC4") as well as the
// Raspberry Pi ("GPIO17").
type Periph struct {
	w      Wiring
	out    map[Indicator]gpio.PinIO
	motion [len(Sensors)]gpio.PinIO
	sw     gpio.PinIO
}

// OpenPeriph initialises the periph host drivers and configures the pins.
func OpenPeriph(w Wiring) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	lookup := func(role, name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%s pin %q not found", role, name)
		}
		return p, nil
	}
	p := &Periph{w: w, out: make(map[Indicator]gpio.PinIO, 3)}
	outs := []struct {
		ind  Indicator
		name string
	}{{IndicatorArmed, w.Armed}, {IndicatorAlert, w.Alert}, {IndicatorLamp, w.Lamp}}
	for _, o := range outs {
		if o.name == "" && o.ind == IndicatorLamp {
			continue
		}
		pin, err := lookup(o.ind.String(), o.name)
		if err != nil {
			return nil, err
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("%s pin %s: %w", o.ind, o.name, err)
		}
		p.out[o.ind] = pin
	}
	for i, name := range []string{w.Motion1, w.Motion2} {
		pin, err := lookup(Sensors[i].String(), name)
		if err != nil {
			return nil, err
		}
		if err := pin.In(periphPull(w.MotionPull), gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("%s pin %s: %w", Sensors[i], name, err)
		}
		p.motion[i] = pin
	}
	sw, err := lookup("switch", w.Switch)
	if err != nil {
		return nil, err
	}
	if err := sw.In(periphPull(w.SwitchPull), gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("switch pin %s: %w", w.Switch, err)
	}
	p.sw = sw
	return p, nil
}

func (p *Periph) Switch() bool { return p.w.SwitchActive.Active(bool(p.sw.Read())) }

func (p *Periph) Motion(s Sensor) bool {
	return p.w.MotionActive.Active(bool(p.motion[s].Read()))
}

func (p *Periph) Set(ind Indicator, on bool) error {
	pin, ok := p.out[ind]
	if !ok {
		return nil
	}
	return pin.Out(gpio.Level(on))
}

func (p *Periph) Close() error {
	var first error
	for ind, pin := range p.out {
		if err := pin.Out(gpio.Low); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", ind, err)
		}
	}
	return first
}

func periphPull(pull Pull) gpio.Pull {
	switch pull {
	case PullUp:
		return gpio.PullUp
	case PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}
