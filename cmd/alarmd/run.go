package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-rfid-alarm/internal/alarm"
	"github.com/kstaniek/go-rfid-alarm/internal/config"
	"github.com/kstaniek/go-rfid-alarm/internal/lockfile"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
	"github.com/kstaniek/go-rfid-alarm/internal/notify"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
	"github.com/kstaniek/go-rfid-alarm/internal/version"
)

var errNoBadges = errors.New("no badges enrolled")

func run(ctx context.Context, cfg *config.Config, l *slog.Logger, forceEnroll bool) error {
	l.Info("build_info", "version", version.Version, "commit", version.Commit, "date", version.BuildTime)
	metrics.InitBuildInfo(version.Version, version.Commit, version.BuildTime)

	if cfg.LockFile != "" {
		lk, err := lockfile.Acquire(cfg.LockFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := lk.Release(); err != nil {
				l.Warn("lock_release_failed", "path", lk.Path(), "error", err)
			}
		}()
	}

	reg, enroll, err := openRegistry(cfg.Registry, forceEnroll)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()
	l.Info("registry_loaded", "path", cfg.Registry, "badges", reg.Len(), "enroll", enroll)

	p, err := openPanel(cfg.GPIO, l)
	if err != nil {
		return fmt.Errorf("gpio: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			l.Warn("gpio_close_failed", "error", err)
		}
	}()
	l.Info("gpio_ready", "backend", cfg.GPIO.Backend)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	hb := initHub(cfg.HTTP, l)
	startMetricsLogger(ctx, cfg.HTTP.LogMetricsInterval, l, &wg)

	alerter, err := newAlerter(cfg.Notify, p, l)
	if err != nil {
		return err
	}
	// Deferred after the panel so the lamp is released before GPIO closes.
	disp := notify.NewDispatcher(context.Background(), cfg.Notify.Queue, alerter.Send, notify.DefaultHooks(l))
	defer disp.Close()

	ctrl, err := alarm.New(alarm.Options{
		Panel:      p,
		OpenReader: readerOpener(cfg.Serial, l),
		Registry:   reg,
		Notifier:   disp,
		Events:     hb,
		Timings:    cfg.Alarm.Timings(),
		MaxTries:   cfg.Alarm.MaxTries,
		Logger:     l,
	})
	if err != nil {
		return err
	}

	var running atomic.Bool
	metrics.SetReadinessFunc(func() bool { return running.Load() && ctx.Err() == nil })

	if cfg.HTTP.Addr != "" {
		stop := startHTTP(ctx, cfg, ctrl, hb, l)
		defer stop()
		l.Info("http_listen", "addr", cfg.HTTP.Addr)
	}

	running.Store(true)
	if enroll {
		l.Info("enrollment_started", "path", cfg.Registry)
		if err := ctrl.Enroll(ctx, reg); err != nil {
			return quiet(err)
		}
		if err := reg.Close(); err != nil {
			l.Warn("registry_close_failed", "error", err)
		}
		if reg.Len() == 0 {
			return fmt.Errorf("%w in %s", errNoBadges, cfg.Registry)
		}
		l.Info("enrollment_finished", "badges", reg.Len())
	}

	err = ctrl.Run(ctx)
	running.Store(false)
	cancel()
	return quiet(err)
}

// openRegistry loads the badge list. A missing or empty list, or force,
// opens it for enrollment instead.
func openRegistry(path string, force bool) (*registry.Registry, bool, error) {
	if !force {
		reg, err := registry.Load(path)
		if err == nil {
			return reg, false, nil
		}
		if !errors.Is(err, registry.ErrEnrollmentRequired) {
			return nil, false, err
		}
	}
	reg, err := registry.OpenForEnrollment(path)
	if err != nil {
		return nil, false, err
	}
	return reg, true, nil
}

// quiet maps a cancelled or expired context to a clean exit.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
