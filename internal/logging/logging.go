// Package logging provides a thin, context-carrying wrapper over log/slog
// used by every package in agentcore so that structured fields (component,
// session id, pack name, ...) are attached consistently instead of being
// interpolated into message strings.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type ctxKey int

const (
	componentKey ctxKey = iota
	sessionKey
)

var (
	once    sync.Once
	base    *slog.Logger
	initErr error
)

// Default returns the process-wide logger, initializing it from
// ENTIRECORE_LOG_LEVEL and ENTIRECORE_LOG_FORMAT on first use.
func Default() *slog.Logger {
	once.Do(func() {
		level := parseLevel(os.Getenv("ENTIRECORE_LOG_LEVEL"))
		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if strings.EqualFold(os.Getenv("ENTIRECORE_LOG_FORMAT"), "json") {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		base = slog.New(handler)
	})
	return base
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent annotates the context with the subsystem name (e.g. "patch",
// "execsession", "pipeline", "auth") so subsequent log calls tag it.
func WithComponent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, componentKey, name)
}

// WithSession annotates the context with a session identifier.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

func attrsFromContext(ctx context.Context, extra []slog.Attr) []any {
	args := make([]any, 0, len(extra)*2+4)
	if c, ok := ctx.Value(componentKey).(string); ok && c != "" {
		args = append(args, "component", c)
	}
	if s, ok := ctx.Value(sessionKey).(string); ok && s != "" {
		args = append(args, "session_id", s)
	}
	for _, a := range extra {
		args = append(args, a.Key, a.Value.Any())
	}
	return args
}

// Debug logs at debug level with context-derived fields plus extra attrs.
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Debug(msg, attrsFromContext(ctx, attrs)...)
}

// Info logs at info level with context-derived fields plus extra attrs.
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Info(msg, attrsFromContext(ctx, attrs)...)
}

// Warn logs at warn level with context-derived fields plus extra attrs.
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Warn(msg, attrsFromContext(ctx, attrs)...)
}

// Error logs at error level with context-derived fields plus extra attrs.
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Error(msg, attrsFromContext(ctx, attrs)...)
}
