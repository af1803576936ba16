package alarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

// switchAfterScript presses the switch once the source ran dry and holds
// it for a few samples.
func switchAfterScript(src *scriptedSource, hold int) func() bool {
	return func() bool {
		if !src.exhausted() || hold <= 0 {
			return false
		}
		hold--
		return true
	}
}

func TestEnrollThreeFramesFromAbsentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfid.txt")
	reg, err := registry.OpenForEnrollment(path)
	require.NoError(t, err)
	defer reg.Close()

	h := newHarness(t, time.Hour, nil,
		id("0123456789"), id("ABCDEFGHIJ"), id("KLMNOPQRST"), id("0123456789"))
	h.sim.SwitchFunc = switchAfterScript(h.src, 3)

	require.NoError(t, h.c.Enroll(h.ctx, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "0123456789\nABCDEFGHIJ\nKLMNOPQRST\n", string(data))
	require.Equal(t, 3, reg.Len())
	require.Equal(t, 1, h.src.closes, "serial channel released when enrollment ends")
	require.Equal(t, Standby, h.c.Status().Mode)
	require.Equal(t, 3, h.c.Status().Registered)
	require.False(t, h.sim.Switch(), "returns only after the switch is released")

	// Four frames processed, four armed pulses; one alert pulse on exit.
	require.Equal(t, 4, h.sim.Pulses(panel.IndicatorArmed))
	require.Equal(t, 1, h.sim.Pulses(panel.IndicatorAlert))
	require.Equal(t, []string{"enrolling", "standby"}, h.rec.modes())

	// The learnt registry is the one the controller now checks.
	require.True(t, h.c.reg.Contains(badge.ID("KLMNOPQRST")))
}

func TestEnrollIgnoresNoise(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfid.txt")
	reg, err := registry.OpenForEnrollment(path)
	require.NoError(t, err)
	defer reg.Close()

	h := newHarness(t, time.Hour, nil,
		id("\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"),
		step{res: badge.Result{Status: badge.Malformed, Frame: badge.Frame("\x02AB"), Err: badge.ErrShortFrame}},
		id("  AB      "),
		id("ABCDEFGHIJ"))
	h.sim.SwitchFunc = switchAfterScript(h.src, 1)

	require.NoError(t, h.c.Enroll(h.ctx, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ\n", string(data))
	require.Equal(t, 4, h.sim.Pulses(panel.IndicatorArmed))
}

func TestEnrollIdleBlinksBothIndicators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfid.txt")
	reg, err := registry.OpenForEnrollment(path)
	require.NoError(t, err)
	defer reg.Close()

	h := newHarness(t, 16900*time.Millisecond, nil)
	err = h.c.Enroll(h.ctx, reg)
	require.ErrorIs(t, err, context.Canceled)

	// One idle cycle lasts 1.7s; the run stops inside the tenth.
	require.Equal(t, 10, h.sim.Pulses(panel.IndicatorArmed))
	require.Equal(t, 10, h.sim.Pulses(panel.IndicatorAlert))
	require.Equal(t, 1, h.src.closes)
	require.Zero(t, reg.Len())
}

func TestEnrollWriteFailureDoesNotAbort(t *testing.T) {
	reg := registry.New() // no backing file
	h := newHarness(t, time.Hour, nil, id("ABCDEFGHIJ"))
	h.sim.SwitchFunc = switchAfterScript(h.src, 1)

	require.NoError(t, h.c.Enroll(h.ctx, reg))
	require.Zero(t, reg.Len())
}
