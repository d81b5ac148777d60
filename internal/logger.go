package internal

import "log/slog"

// Logger is an embeddable, nil-safe structured logger shared by the client
// and server engines. The zero value discards everything.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Error(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, slog.LevelError, msg, attrs...)
}

func (l Logger) Warn(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, slog.LevelWarn, msg, attrs...)
}

func (l Logger) Debug(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, slog.LevelDebug, msg, attrs...)
}

func (l Logger) Trace(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, LevelTrace, msg, attrs...)
}

func (l Logger) Enabled(lvl slog.Level) bool {
	return LogEnabled(l.Log, lvl)
}
