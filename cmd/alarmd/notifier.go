package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/config"
	"github.com/kstaniek/go-rfid-alarm/internal/notify"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
)

// newMailer picks the configured mail transport.
func newMailer(n config.Notify, l *slog.Logger) (notify.Mailer, error) {
	switch n.Transport {
	case "log", "":
		return notify.LogMailer{Log: l}, nil
	case "mailgun":
		m := n.Mailgun
		return notify.NewMailgun(m.Domain, m.APIKey, m.APIBase, m.Sender, m.Recipients), nil
	case "smtp":
		s := n.SMTP
		return &notify.SMTP{
			Host:       s.Host,
			Port:       s.Port,
			Username:   s.Username,
			Password:   s.Password,
			From:       s.From,
			Recipients: s.Recipients,
		}, nil
	default:
		return nil, fmt.Errorf("unknown notify transport %q (use log|mailgun|smtp)", n.Transport)
	}
}

// newAlerter wires cameras, lamp and mailer. p may be nil (no lamp).
func newAlerter(n config.Notify, p panel.Panel, l *slog.Logger) (*notify.Alerter, error) {
	mailer, err := newMailer(n, l)
	if err != nil {
		return nil, err
	}
	body := ""
	if n.BodyFile != "" {
		b, err := os.ReadFile(n.BodyFile)
		if err != nil {
			return nil, fmt.Errorf("read mail body: %w", err)
		}
		body = string(b)
	}
	a := &notify.Alerter{
		PreCapture:     n.PreCapture,
		OutputDir:      n.OutputDir,
		Mailer:         mailer,
		Body:           body,
		CaptureTimeout: n.CaptureTimeout,
		Log:            l,
	}
	for _, c := range n.Cameras {
		a.Cameras = append(a.Cameras, notify.Camera{Name: c.Name, Device: c.Device, Command: c.Command})
	}
	if p != nil {
		a.Lamp = func(on bool) error { return p.Set(panel.IndicatorLamp, on) }
	}
	return a, nil
}

// testAlert runs one alert synchronously, without GPIO.
func testAlert(ctx context.Context, cfg *config.Config, label string, l *slog.Logger) error {
	a, err := newAlerter(cfg.Notify, nil, l)
	if err != nil {
		return err
	}
	if err := a.Send(ctx, notify.Alert{Label: label, Time: time.Now()}); err != nil {
		return fmt.Errorf("test alert: %w", err)
	}
	l.Info("test_alert_sent", "label", label, "transport", cfg.Notify.Transport, "cameras", len(a.Cameras))
	return nil
}
