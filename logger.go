package embcache

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with embcache-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithModel adds a model field to the logger.
func (l *Logger) WithModel(model string) *Logger {
	return &Logger{
		Logger: l.Logger.With("model", model),
	}
}

// WithReplica adds a replica field to the logger.
func (l *Logger) WithReplica(replica int32) *Logger {
	return &Logger{
		Logger: l.Logger.With("replica", replica),
	}
}

// LogInit logs a serving initialization.
func (l *Logger) LogInit(ctx context.Context, configPath string, globalReplicaID int32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "init failed",
			"config", configPath,
			"global_replica_id", globalReplicaID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "init completed",
			"config", configPath,
			"global_replica_id", globalReplicaID,
		)
	}
}

// LogForward logs a batched lookup.
func (l *Logger) LogForward(ctx context.Context, model string, tableID, replicaID int32, numKeys int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "forward failed",
			"model", model,
			"table", tableID,
			"replica", replicaID,
			"keys", numKeys,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "forward completed",
			"model", model,
			"table", tableID,
			"replica", replicaID,
			"keys", numKeys,
			"elapsed", elapsed,
		)
	}
}

// LogShutdown logs a shutdown and its final reporting.
func (l *Logger) LogShutdown(ctx context.Context, status string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "shutdown failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "shutdown completed",
			"status", status,
		)
	}
}

// LogBatchTransfer logs a staged batch upload or fetch.
func (l *Logger) LogBatchTransfer(ctx context.Context, direction string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch transfer failed",
			"direction", direction,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "batch transfer completed",
			"direction", direction,
			"files", files,
		)
	}
}
