package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LevelTrace is below slog.LevelDebug and carries the per-dispatch records.
const LevelTrace = slog.Level(-8)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	output        io.Writer = os.Stdout
	once          sync.Once
	mu            sync.RWMutex
)

// Initialize sets up the structured logger
func Initialize() {
	once.Do(func() {
		level.Set(slog.LevelInfo)
		mu.Lock()
		defaultLogger = slog.New(newJSONHandler(output))
		mu.Unlock()
	})
}

func newJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   false,
		ReplaceAttr: replaceLevel,
	})
}

// replaceLevel renders LevelTrace as "TRACE" instead of "DEBUG-4".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Get returns the default structured logger
func Get() *slog.Logger {
	Initialize() // Always call Initialize, sync.Once ensures it only runs once
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetOutput redirects the JSON handler to w. Console capture, if enabled,
// keeps receiving records.
func SetOutput(w io.Writer) {
	Initialize()
	mu.Lock()
	defer mu.Unlock()
	output = w
	defaultLogger = slog.New(buildHandler())
}

// SetLevel changes the minimum level at runtime.
func SetLevel(l slog.Level) {
	Initialize()
	level.Set(l)
}

// Level returns the current minimum level.
func Level() slog.Level {
	Initialize()
	return level.Level()
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (use: trace|debug|info|warn|error)", s)
	}
}

// Info logs an info level message
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// InfoContext logs an info level message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, args...)
}

// Warn logs a warning level message
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// WarnContext logs a warning level message with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, args...)
}

// Error logs an error level message
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// ErrorContext logs an error level message with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, args...)
}

// Debug logs a debug level message
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// DebugContext logs a debug level message with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, args...)
}

// Trace logs at LevelTrace
func Trace(msg string, args ...any) {
	Get().Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at LevelTrace with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	Get().Log(ctx, LevelTrace, msg, args...)
}

// TraceEnabled reports whether trace records would be emitted. Callers use
// it to skip building expensive attributes on the dispatch hot path.
func TraceEnabled() bool {
	return Get().Enabled(context.Background(), LevelTrace)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

// WithGroup returns a logger with the given group name
func WithGroup(name string) *slog.Logger {
	return Get().WithGroup(name)
}
