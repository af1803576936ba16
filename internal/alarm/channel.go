package alarm

import (
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
)

// Source yields classified badge reads. *badge.Reader implements it.
type Source interface {
	Next() (badge.Result, error)
	Close() error
}

// OpenFunc opens the badge reader.
type OpenFunc func() (Source, error)

// channel owns the serial source for one loop. A failed open or an
// unavailable device is retried with exponential backoff while the caller
// keeps polling its other inputs.
type channel struct {
	open     OpenFunc
	src      Source
	min, max time.Duration
	backoff  time.Duration
	retryAt  time.Time
	log      *slog.Logger
}

func newChannel(open OpenFunc, min, max time.Duration, l *slog.Logger) *channel {
	return &channel{open: open, min: min, max: max, backoff: min, log: l}
}

// next performs one bounded read. Errors are logged here and reported as
// a NoData result.
func (ch *channel) next(now time.Time) badge.Result {
	if ch.src == nil {
		if now.Before(ch.retryAt) {
			return badge.Result{Status: badge.NoData}
		}
		src, err := ch.open()
		if err != nil {
			metrics.IncError(metrics.ErrSerialOpen)
			ch.log.Warn("serial_open_failed", "error", err, "backoff", ch.backoff)
			ch.fail(now)
			return badge.Result{Status: badge.NoData}
		}
		ch.src = src
	}
	res, err := ch.src.Next()
	if err != nil {
		metrics.IncError(metrics.ErrSerialRead)
		ch.log.Warn("serial_read_error", "error", err, "backoff", ch.backoff)
		if errors.Is(err, badge.ErrDeviceUnavailable) {
			ch.close()
			ch.fail(now)
		}
		return badge.Result{Status: badge.NoData}
	}
	ch.backoff = ch.min
	return res
}

func (ch *channel) fail(now time.Time) {
	ch.retryAt = now.Add(ch.backoff)
	ch.backoff *= 2
	if ch.backoff > ch.max {
		ch.backoff = ch.max
	}
}

func (ch *channel) close() {
	if ch.src == nil {
		return
	}
	if err := ch.src.Close(); err != nil {
		ch.log.Debug("serial_close_error", "error", err)
	}
	ch.src = nil
}
