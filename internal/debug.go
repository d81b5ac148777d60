package internal

import (
	"context"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug for the engine's per-segment
// tracing, which is too chatty to enable alongside ordinary debug logs.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogEnabled reports whether l would emit a record at lvl. A nil logger is
// always disabled.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs is the allocation-conscious logging helper shared by every
// package logger: callers build slog.Attr slices eagerly, but LogAttrs
// itself no-ops on a nil logger instead of every call site checking.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
