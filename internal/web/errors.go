package web

import (
	"errors"

	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrUpgrade):
		return metrics.ErrEventsUp
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrEventsWrite
	default:
		return "other"
	}
}
