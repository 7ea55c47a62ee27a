// Package logging provides a centralized, structured logger for the model-run
// queue service using zerolog. It supports context-enriched log entries with
// task and model fields for end-to-end request tracing.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey int

const loggerKey contextKey = 0

// Logger is the package-level default logger. It writes JSON to stderr.
var Logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// New returns a zerolog.Logger that writes to the supplied writer with
// timestamps.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// Open returns a logger writing to the named file, or to stderr when filename
// is "-". This backs the --log-filename flag every binary accepts.
func Open(filename string) (zerolog.Logger, error) {
	if filename == "-" || filename == "" {
		return New(os.Stderr), nil
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
	}
	return New(f), nil
}

// WithContext returns a copy of ctx with the logger embedded.
// Retrieve it later with FromContext.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in ctx, or the package-level default
// Logger if none was set.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Logger
}

// WithTask returns a logger with a "task_id" field pre-set. Use this when
// logging events scoped to a single task.
func WithTask(l zerolog.Logger, taskID string) zerolog.Logger {
	return l.With().Str("task_id", taskID).Logger()
}

// WithModel returns a logger with "model" and "model_version" fields pre-set.
func WithModel(l zerolog.Logger, name, version string) zerolog.Logger {
	return l.With().Str("model", name).Str("model_version", version).Logger()
}

// WithComponent returns a logger with a "component" field pre-set
// ("queue", "worker", "web").
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
