package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNewJSONWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Debug("hidden")
	l.Info("alarm_armed", "mode", "armed")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"alarm_armed"`)
	require.Contains(t, buf.String(), `"mode":"armed"`)
}

func TestSetIgnoresNil(t *testing.T) {
	prev := L()
	Set(nil)
	require.Same(t, prev, L())
	require.Same(t, prev, Or(nil))
	d := Discard()
	require.Same(t, d, Or(d))
}

func TestDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	New("text", slog.LevelDebug, &buf).Debug("serial_open")
	require.Contains(t, buf.String(), "source=")

	buf.Reset()
	New("text", slog.LevelInfo, &buf).Info("serial_open")
	require.NotContains(t, buf.String(), "source=")
}
