package alarm

import (
	"context"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/events"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

// Idle blink pattern while waiting for badges.
const (
	enrollIdleOn    = 500 * time.Millisecond
	enrollIdlePause = 500 * time.Millisecond
	enrollIdleGap   = 200 * time.Millisecond
)

// Enroll learns badges into reg until the switch is pressed. Every frame
// read gets an armed pulse; new ids are appended to the registry file. reg
// nil means the controller's own registry. The serial channel is closed on
// return.
func (c *Controller) Enroll(ctx context.Context, reg *registry.Registry) error {
	if reg == nil {
		reg = c.reg
	}
	ch := newChannel(c.open, c.t.ReopenMin, c.t.ReopenMax, c.log)
	defer ch.close()
	c.setMode(Enrolling)
	c.log.Info("enroll_started", "path", reg.Path(), "registered", reg.Len())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.p.Switch() {
			c.log.Info("enroll_finished", "registered", reg.Len())
			if err := c.pulse(ctx, panel.IndicatorAlert, c.t.EnrollPulse); err != nil {
				return err
			}
			if err := c.waitRelease(ctx); err != nil {
				return err
			}
			c.reg = reg
			c.setMode(Standby)
			return nil
		}
		res := ch.next(c.now())
		var err error
		switch res.Status {
		case badge.Badge:
			c.learn(reg, res.ID)
			err = c.pulse(ctx, panel.IndicatorArmed, c.t.EnrollPulse)
		case badge.Malformed:
			metrics.IncBadge(metrics.BadgeMalformed)
			c.log.Debug("badge_malformed", "bytes", len(res.Frame), "error", res.Err)
			err = c.pulse(ctx, panel.IndicatorArmed, c.t.EnrollPulse)
		default:
			err = c.enrollIdle(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Controller) learn(reg *registry.Registry, id badge.ID) {
	added, err := reg.Enroll(id)
	switch {
	case err != nil:
		metrics.IncError(metrics.ErrEnrollWrite)
		c.log.Error("enroll_write_failed", "badge", id.Masked(), "error", err)
	case added:
		metrics.IncBadge(metrics.BadgeEnrolled)
		c.log.Info("badge_enrolled", "badge", id.Masked(), "registered", reg.Len())
		c.emit(events.Event{Kind: events.KindEnrolled, Badge: id.Masked()})
		c.updateStatus(func(s *Status) { s.Registered = reg.Len() })
	default:
		c.log.Debug("badge_ignored", "badge", id.Masked())
	}
}

func (c *Controller) enrollIdle(ctx context.Context) error {
	if err := c.pulse(ctx, panel.IndicatorArmed, enrollIdleOn); err != nil {
		return err
	}
	if err := c.sleep(ctx, enrollIdlePause); err != nil {
		return err
	}
	if err := c.pulse(ctx, panel.IndicatorAlert, enrollIdleOn); err != nil {
		return err
	}
	return c.sleep(ctx, enrollIdleGap)
}

// waitRelease keeps a held switch from arming right after enrollment.
func (c *Controller) waitRelease(ctx context.Context) error {
	for c.p.Switch() {
		if err := c.sleep(ctx, c.t.Poll); err != nil {
			return err
		}
	}
	return nil
}
