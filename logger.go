package hsne

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with hsne-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithDataset adds a dataset name field to the logger.
func (l *Logger) WithDataset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", name),
	}
}

// WithScale adds a scale field to the logger.
func (l *Logger) WithScale(scale int) *Logger {
	return &Logger{
		Logger: l.Logger.With("scale", scale),
	}
}

// WithRun adds a coordinator run field to the logger.
func (l *Logger) WithRun(run uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("run", run),
	}
}

// LogHierarchy logs a hierarchy build or cache load.
func (l *Logger) LogHierarchy(ctx context.Context, scales int, fromCache bool, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "hierarchy failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "hierarchy ready",
		"scales", scales,
		"from_cache", fromCache,
		"duration", duration,
	)
}

// LogEmbedding logs the end of an embedding run.
func (l *Logger) LogEmbedding(ctx context.Context, scale, points, iteration int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "embedding failed",
			"scale", scale,
			"points", points,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "embedding completed",
		"scale", scale,
		"points", points,
		"iteration", iteration,
		"duration", duration,
	)
}

// LogRefinement logs a drill-down into a selection.
func (l *Logger) LogRefinement(ctx context.Context, scale, selected, landmarks int, err error) {
	if err != nil {
		l.WarnContext(ctx, "refinement failed",
			"scale", scale,
			"selected", selected,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "refinement computed",
		"scale", scale,
		"selected", selected,
		"landmarks", landmarks,
	)
}
