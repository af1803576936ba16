package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"mode", snap.Mode,
		"badge_match", snap.Matches,
		"badge_mismatch", snap.Mismatches,
		"badge_malformed", snap.Malformed,
		"badge_enrolled", snap.Enrolled,
		"alerts", snap.Alerts,
		"heartbeats", snap.Heartbeats,
		"notify_sent", snap.NotifySent,
		"notify_dropped", snap.Dropped,
		"errors", snap.Errors,
	)
}
