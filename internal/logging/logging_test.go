package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		require.Equal(t, want, LevelFromString(in), in)
	}
}

func TestNewWriterFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With("component", "engine")
	log.Info("dropped")
	log.Warn("kept", "po", "PO-OG-2026-0147")

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, "component=engine")
	require.Contains(t, out, "po=PO-OG-2026-0147")
}
