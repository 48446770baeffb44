package internal

import (
	"context"
	"log/slog"
)

// LevelTrace logs per-operation detail below slog.LevelDebug.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogAttrs logs to l, or does nothing when l is nil.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
