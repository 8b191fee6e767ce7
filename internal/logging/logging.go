// Package logging wires zerolog the way the teacher's utils/logger package
// does: a context-carried logger, request/job scoped children, a console
// writer in development.
package logging

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

var loggerKey = ctxKey{}

// Initialize sets up the global logger with the given level name
// (debug|info|warn|error); unrecognized names fall back to info.
func Initialize(levelName string) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	log.Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Caller().
		Logger()
}

// FromContext extracts the logger carried by ctx, falling back to the
// global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return log.Logger
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return log.Logger
}

// WithContext attaches logger to ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID scopes the logger to a CAG request id.
func WithRequestID(ctx context.Context, requestID string) (context.Context, zerolog.Logger) {
	logger := FromContext(ctx).With().Str("request_id", requestID).Logger()
	return WithContext(ctx, logger), logger
}

// WithJobID scopes the logger to an IDX/CAG JobRun id.
func WithJobID(ctx context.Context, jobID string) (context.Context, zerolog.Logger) {
	logger := FromContext(ctx).With().Str("job_id", jobID).Logger()
	return WithContext(ctx, logger), logger
}

// WithItemID scopes the logger to a single catalog item.
func WithItemID(ctx context.Context, itemID string) (context.Context, zerolog.Logger) {
	logger := FromContext(ctx).With().Str("item_id", itemID).Logger()
	return WithContext(ctx, logger), logger
}
