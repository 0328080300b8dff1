package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	// Test that logger functions don't panic
	ctx := context.Background()

	Initialize()

	t.Run("InfoContext", func(t *testing.T) {
		InfoContext(ctx, "Test info message", "key", "value", "number", 42)
	})

	t.Run("Warn", func(t *testing.T) {
		Warn("Test warning message", "component", "test")
	})

	t.Run("ErrorContext", func(t *testing.T) {
		ErrorContext(ctx, "Test error message", "error", "sample error")
	})

	t.Run("Trace", func(t *testing.T) {
		Trace("Test trace message", "path", "real")
		TraceContext(ctx, "Test trace message", "path", "cache")
	})
}

func TestLoggerInitialization(t *testing.T) {
	logger := Get()
	require.NotNil(t, logger)
	assert.Same(t, logger, Get(), "multiple calls return the same logger")

	assert.NotNil(t, With("service", "test"))
	assert.NotNil(t, WithGroup("test_group"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{" warning ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTraceLevelOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	prev := Level()
	defer SetLevel(prev)

	SetLevel(slog.LevelInfo)
	assert.False(t, TraceEnabled())
	Trace("hidden")
	assert.Zero(t, buf.Len())

	SetLevel(LevelTrace)
	assert.True(t, TraceEnabled())
	Trace("dispatch", "path", "filter")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "TRACE", rec["level"])
	assert.Equal(t, "dispatch", rec["msg"])
	assert.Equal(t, "filter", rec["path"])
}

func TestConsoleCapture(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	buffer := EnableConsole(2)
	defer EnableConsole(0)
	require.NotNil(t, buffer)
	assert.Same(t, buffer, GetConsoleBuffer())

	Info("first")
	With("filter", "audit").Warn("second")
	Error("third", "error", "boom")

	assert.Equal(t, 2, buffer.Count())
	recent := buffer.GetRecent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Message)
	assert.Equal(t, "ERR", recent[0].Level)
	assert.Equal(t, "error=boom", recent[0].Attrs)
	assert.Equal(t, "second", recent[1].Message)
	assert.Equal(t, "filter=audit", recent[1].Attrs)

	// JSON output still receives every record
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	buffer.Clear()
	assert.Zero(t, buffer.Count())
	assert.Nil(t, buffer.GetRecent(1))
}

func TestFormatLevel(t *testing.T) {
	tests := []struct {
		level    slog.Level
		expected string
	}{
		{LevelTrace, "TRC"},
		{slog.LevelDebug, "DBG"},
		{slog.LevelInfo, "INF"},
		{slog.LevelWarn, "WRN"},
		{slog.LevelError, "ERR"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, FormatLevel(test.level))
	}
}
