package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-rfid-alarm/internal/alarm"
	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/config"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = badge.Open

// openPanel is a hook for tests; the default picks the configured backend.
var openPanel = func(g config.GPIO, l *slog.Logger) (panel.Panel, error) {
	switch g.Backend {
	case "rpio":
		p, err := panel.OpenRPIO(g.Wiring())
		if err != nil {
			return nil, err
		}
		return p, nil
	case "periph":
		p, err := panel.OpenPeriph(g.Wiring())
		if err != nil {
			return nil, err
		}
		return p, nil
	case "sim":
		l.Warn("gpio_simulated", "hint", "no hardware is driven")
		return panel.NewSim(l), nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q (use rpio|periph|sim)", g.Backend)
	}
}

// readerOpener returns the controller's badge reader factory. Each call
// opens the port afresh; the controller closes it between armed periods.
// One Next call never blocks longer than the configured read timeout.
func readerOpener(s config.Serial, l *slog.Logger) alarm.OpenFunc {
	perRead, frame := badge.Timeouts(s.ReadTimeout)
	return func() (alarm.Source, error) {
		p, err := openSerialPort(s.Device, s.Baud, perRead)
		if err != nil {
			metrics.IncError(metrics.ErrSerialOpen)
			return nil, fmt.Errorf("open serial %s: %w", s.Device, err)
		}
		l.Info("serial_open", "device", s.Device, "baud", s.Baud, "frame_timeout", frame)
		return badge.NewReader(p, frame), nil
	}
}
