package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewLogger(&buf, LogLevelInfo, FormatJSON).Module("marketing")

	log.Info("trigger executed",
		Uint64("trigger_id", 7),
		String("action", "send_coupon"),
		Error(errors.New("boom")))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trigger executed", entry["msg"])
	assert.Equal(t, "marketing", entry["module"])
	assert.InDelta(t, 7, entry["trigger_id"], 0)
	assert.Equal(t, "send_coupon", entry["action"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNewLogger_LevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewLogger(&buf, LogLevelError, FormatJSON)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("hidden")
	assert.Empty(t, buf.String())

	log.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"WARN", LogLevelWarn},
		{"warning", LogLevelWarn},
		{" error ", LogLevelError},
		{"", LogLevelInfo},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewNop(t *testing.T) {
	t.Parallel()
	log := NewNop()
	assert.NotPanics(t, func() {
		log.With(String("k", "v")).Module("x").Error("ignored", Error(nil))
	})
}
