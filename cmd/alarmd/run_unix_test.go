//go:build unix

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-rfid-alarm/internal/lockfile"
	"github.com/kstaniek/go-rfid-alarm/internal/logging"
)

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := simConfig(t)
	lk, err := lockfile.Acquire(cfg.LockFile)
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	err = run(context.Background(), cfg, logging.Discard(), false)
	require.ErrorIs(t, err, lockfile.ErrLocked)
}
