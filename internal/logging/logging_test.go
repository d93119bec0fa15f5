package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	restore(t)
	InitWriter(&buf, "debug", "json")

	ctx := WithContext(context.Background(), GameIDKey, int64(3))
	ctx = WithContext(ctx, MessageIDKey, int64(42))
	Error(ctx, "generation failed", errors.New("boom"), "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "generation failed", rec["msg"])
	assert.Equal(t, float64(3), rec["game_id"])
	assert.Equal(t, float64(42), rec["message_id"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, float64(2), rec["attempt"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	restore(t)
	InitWriter(&buf, "error", "text")

	Warn(context.Background(), "ignored")
	assert.Empty(t, buf.String())
}

func restore(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		defaultLogger = nil
		slog.SetDefault(prev)
	})
}
