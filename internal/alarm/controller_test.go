package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/events"
	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/notify"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

func TestNewValidates(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, errNoPanel)
	_, err = New(Options{Panel: panel.NewSim(nil)})
	require.Error(t, err)
	_, err = New(Options{Panel: panel.NewSim(nil), OpenReader: func() (Source, error) { return nil, nil }, MaxTries: -1})
	require.Error(t, err)

	c, err := New(Options{Panel: panel.NewSim(nil), OpenReader: func() (Source, error) { return nil, nil }, Logger: logging.Discard()})
	require.NoError(t, err)
	require.Equal(t, DefaultTimings, c.t)
	require.Equal(t, Standby, c.Status().Mode)
}

// Three near misses stay within budget; the registered badge then disarms.
func TestMismatchesThenMatchDisarms(t *testing.T) {
	reg := registry.New(mustID(t, "ABCDEFGHIJ"))
	h := newHarness(t, 60*time.Second, reg,
		id("ABCDEFGHIK"), id("ABCDEFGHIK"), id("ABCDEFGHIK"), id("ABCDEFGHIJ"))
	h.sim.SwitchFunc = pressOnce()

	err := h.c.Run(h.ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Empty(t, h.notifier.Labels())
	require.Equal(t, []string{"standby", "arming", "armed", "disarming", "standby"}, h.rec.modes())
	require.Equal(t, 1, h.opens)
	require.Equal(t, 1, h.src.closes, "serial channel released on disarm")
	require.Equal(t, Standby, h.c.Status().Mode)
	require.Equal(t, 0, h.c.Status().Retries)
	require.False(t, h.sim.Output(panel.IndicatorArmed))
	require.False(t, h.sim.Output(panel.IndicatorAlert))
}

// Five mismatches with a budget of three: one alert after the fourth, and
// the fifth starts a new streak.
func TestExceededTriesAlertsOnceAndResets(t *testing.T) {
	h := newHarness(t, 60*time.Second, registry.New(),
		id("0000000001"), id("0000000002"), id("0000000003"), id("0000000004"), id("0000000005"))
	h.sim.SwitchFunc = pressOnce()

	require.ErrorIs(t, h.c.Run(h.ctx), context.Canceled)

	require.Equal(t, []string{notify.LabelExceededTries}, h.notifier.Labels())
	require.Equal(t, []int{DefaultMaxTries + 1}, h.notifier.rc)
	require.Equal(t, 1, h.c.Status().Retries)
	require.Equal(t, notify.LabelExceededTries, h.c.Status().LastAlert)
	require.Equal(t, Armed, h.c.Status().Mode, "alerts never change the mode")
}

func TestRetryCounterBound(t *testing.T) {
	for _, max := range []int{1, 3, 7} {
		t.Run(fmt.Sprintf("max_%d", max), func(t *testing.T) {
			steps := make([]step, 3*(max+1)+1)
			for i := range steps {
				steps[i] = id(fmt.Sprintf("%010d", i))
			}
			h := newHarness(t, time.Minute, registry.New(), steps...)
			h.c.maxTries = max
			ch := newChannel(h.c.open, time.Millisecond, time.Millisecond, h.c.log)
			for range steps {
				require.False(t, h.c.badgeStep(h.ctx, ch))
				require.LessOrEqual(t, h.c.retries.n, max+1)
			}
			require.Len(t, h.notifier.Labels(), 3)
			for _, rc := range h.notifier.rc {
				require.Equal(t, max+1, rc)
			}
			require.Equal(t, 1, h.c.retries.n)
		})
	}
}

// Any single character difference must not disarm.
func TestSingleCharacterMismatchNeverDisarms(t *testing.T) {
	good := "7F00A1B2C3"
	reg := registry.New(mustID(t, good))
	for pos := 0; pos < len(good); pos++ {
		b := []byte(good)
		b[pos] ^= 0x01
		h := newHarness(t, time.Minute, reg, id(string(b)), id(good))
		h.c.maxTries = 100
		ch := newChannel(h.c.open, time.Millisecond, time.Millisecond, h.c.log)
		require.False(t, h.c.badgeStep(h.ctx, ch), "position %d", pos)
		require.True(t, h.c.badgeStep(h.ctx, ch))
	}
}

// A motion trip in the middle of a mismatch streak alerts and leaves the
// streak untouched.
func TestMotionIndependentOfBadgeStreak(t *testing.T) {
	h := newHarness(t, 30*time.Second, registry.New(), id("0000000001"), id("0000000002"))
	h.sim.SwitchFunc = pressOnce()
	samples := 0
	var retriesAtTrip int
	h.sim.MotionFunc = func(s panel.Sensor) bool {
		if s != panel.Motion2 {
			return false
		}
		samples++
		if samples == 2 {
			retriesAtTrip = h.c.retries.n
			return true
		}
		return false
	}

	require.ErrorIs(t, h.c.Run(h.ctx), context.Canceled)

	require.Equal(t, []string{notify.LabelIntruder}, h.notifier.Labels())
	require.Equal(t, 2, retriesAtTrip)
	require.Equal(t, 2, h.c.Status().Retries)
	var motion []string
	for _, ev := range h.rec.events {
		if ev.Kind == events.KindMotion {
			motion = append(motion, ev.Label)
		}
	}
	require.Equal(t, []string{"motion2"}, motion)
}

func TestBothSensorsRaiseOneAlertPerIteration(t *testing.T) {
	h := newHarness(t, time.Minute, registry.New())
	h.sim.SetMotion(panel.Motion1, true)
	h.sim.SetMotion(panel.Motion2, true)
	require.NoError(t, h.c.motionStep(h.ctx))
	require.Equal(t, []string{notify.LabelIntruder}, h.notifier.Labels())
	require.Equal(t, 1, h.sim.Pulses(panel.IndicatorAlert))
	require.False(t, h.sim.Output(panel.IndicatorAlert))
}

// Arming waits the full countdown with one pulse per tick and samples
// neither the badge channel nor the sensors.
func TestArmingCountdown(t *testing.T) {
	h := newHarness(t, 11*time.Second, registry.New())
	h.sim.SwitchFunc = pressOnce()
	motionSamples := 0
	h.sim.MotionFunc = func(panel.Sensor) bool { motionSamples++; return false }

	type snap struct {
		at             time.Time
		pulses, motion int
		reads, opens   int
	}
	snaps := map[string]snap{}
	h.rec.snap = func(ev events.Event) {
		snaps[ev.Mode] = snap{h.clock.Now(), h.sim.Pulses(panel.IndicatorArmed), motionSamples, h.src.reads, h.opens}
	}

	require.ErrorIs(t, h.c.Run(h.ctx), context.Canceled)

	arming, armed := snaps["arming"], snaps["armed"]
	require.Equal(t, 20, armed.pulses-arming.pulses)
	require.Equal(t, 10*time.Second, armed.at.Sub(arming.at))
	require.Equal(t, arming.motion, armed.motion)
	require.Zero(t, armed.reads)
	require.Zero(t, armed.opens)
	require.Greater(t, h.src.reads, 0, "armed loop reads the channel")
}

func TestArmedHeartbeat(t *testing.T) {
	h := newHarness(t, 10*time.Second+35*time.Second, registry.New())
	h.sim.SwitchFunc = pressOnce()
	require.ErrorIs(t, h.c.Run(h.ctx), context.Canceled)
	// Ten seconds arming, then roughly 35s armed at one pulse per 10s.
	require.Equal(t, 3, h.sim.Pulses(panel.IndicatorAlert))
}

func TestStandbyHeartbeat(t *testing.T) {
	h := newHarness(t, 25*time.Second, registry.New())
	require.ErrorIs(t, h.c.Run(h.ctx), context.Canceled)
	require.Equal(t, 2, h.sim.Pulses(panel.IndicatorArmed))
	require.Zero(t, h.opens, "standby never opens the reader")
}

func TestDeviceUnavailableReopensWithBackoff(t *testing.T) {
	gone := fmt.Errorf("%w: %w", badge.ErrDeviceUnavailable, &os.PathError{Op: "read", Path: "/dev/ttyUSB0", Err: errors.New("no such device")})
	h := newHarness(t, time.Minute, registry.New(mustID(t, "ABCDEFGHIJ")),
		step{err: gone}, step{err: gone}, id("ABCDEFGHIJ"))
	ch := newChannel(h.c.open, 20*time.Millisecond, 500*time.Millisecond, h.c.log)

	require.False(t, h.c.badgeStep(h.ctx, ch))
	require.Equal(t, 1, h.src.closes)
	require.Nil(t, ch.src)

	// Still inside the backoff window: no reopen.
	require.False(t, h.c.badgeStep(h.ctx, ch))
	require.Equal(t, 1, h.opens)

	h.clock.now = h.clock.now.Add(20 * time.Millisecond)
	require.False(t, h.c.badgeStep(h.ctx, ch))
	require.Equal(t, 2, h.opens)
	require.Equal(t, 80*time.Millisecond, ch.backoff)

	h.clock.now = h.clock.now.Add(40 * time.Millisecond)
	require.True(t, h.c.badgeStep(h.ctx, ch))
	require.Equal(t, 3, h.opens)
	require.Equal(t, 20*time.Millisecond, ch.backoff)
}

func TestOpenFailureKeepsPollingMotion(t *testing.T) {
	h := newHarness(t, 15*time.Second, registry.New())
	opens := 0
	h.c.open = func() (Source, error) { opens++; return nil, errors.New("permission denied") }
	h.sim.SwitchFunc = pressOnce()
	motion := 0
	h.sim.MotionFunc = func(panel.Sensor) bool { motion++; return false }

	require.ErrorIs(t, h.c.Run(h.ctx), context.Canceled)
	require.Greater(t, opens, 3)
	require.Greater(t, motion, opens, "sensor polling continues between reopen attempts")
}

func TestMalformedFrameIsNotFatal(t *testing.T) {
	h := newHarness(t, time.Minute, registry.New(),
		step{res: badge.Result{Status: badge.Malformed, Frame: badge.Frame("\x02ABC"), Err: badge.ErrShortFrame}})
	ch := newChannel(h.c.open, time.Millisecond, time.Millisecond, h.c.log)
	require.False(t, h.c.badgeStep(h.ctx, ch))
	require.Zero(t, h.c.retries.n)
	require.NotNil(t, ch.src)
}

func TestStatusJSON(t *testing.T) {
	h := newHarness(t, time.Minute, registry.New(mustID(t, "ABCDEFGHIJ")))
	b, err := json.Marshal(h.c.Status())
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, "standby", got["mode"])
	require.EqualValues(t, 1, got["registered"])
	require.NotContains(t, got, "last_alert")
}

func TestModeString(t *testing.T) {
	require.Equal(t, "standby", Standby.String())
	require.Equal(t, "arming", Arming.String())
	require.Equal(t, "armed", Armed.String())
	require.Equal(t, "disarming", Disarming.String())
	require.Equal(t, "enrolling", Enrolling.String())
	require.Equal(t, "mode(9)", Mode(9).String())
}

// bytesPort serves a fixed byte stream, then read timeouts.
type bytesPort struct{ *bytes.Reader }

func (bytesPort) Close() error { return nil }

// Serial line noise that fills a whole frame is not a badge: it must never
// spend the retry budget.
func TestNonTextFramesNeverCountAsTries(t *testing.T) {
	good := "0F00322A61"
	var stream []byte
	for i := 0; i < 2*(DefaultMaxTries+1); i++ {
		stream = append(stream, 0x02)
		stream = append(stream, bytes.Repeat([]byte{0xFF, 0xFE}, badge.IDLen/2)...)
		stream = append(stream, 0x03)
	}
	stream = append(stream, 0x02)
	stream = append(stream, good...)
	stream = append(stream, 0x03)

	h := newHarness(t, time.Minute, registry.New(mustID(t, good)))
	h.c.open = func() (Source, error) {
		return badge.NewReader(bytesPort{bytes.NewReader(stream)}, 0), nil
	}
	ch := newChannel(h.c.open, time.Millisecond, time.Millisecond, h.c.log)
	for i := 0; i < 2*(DefaultMaxTries+1); i++ {
		require.False(t, h.c.badgeStep(h.ctx, ch), "noise frame %d", i)
		require.Zero(t, h.c.retries.n)
	}
	require.Empty(t, h.notifier.Labels())
	require.True(t, h.c.badgeStep(h.ctx, ch), "the registered badge still disarms")
}
