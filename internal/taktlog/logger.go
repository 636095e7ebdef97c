// Package taktlog wires the process-wide slog handler used by the CLI and
// the long-running supervisor/engine components.
package taktlog

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a log-level name (the CLI reads it from TAKT_LOG_LEVEL)
// to a slog.Level, defaulting to info for unrecognized values.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

// New builds a text-handler logger writing to w at the given level. Piece
// and task runs attach run-scoped attributes via With, not a new handler.
func New(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// WithRun returns a logger annotated with the identifiers that should
// accompany every log line produced while executing a single task run.
func WithRun(logger *slog.Logger, taskName, pieceName string) *slog.Logger {
	return logger.With(slog.String("task", taskName), slog.String("piece", pieceName))
}

// contextKey avoids collisions with other packages storing values in a
// context.Context.
type contextKey struct{ name string }

var loggerKey = &contextKey{"taktlog.logger"}

// IntoContext attaches logger to ctx for retrieval deeper in a call chain
// (movement executor, phase runner) without threading it through every
// function signature.
func IntoContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger attached by IntoContext, or slog.Default()
// if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
