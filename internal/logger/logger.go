package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates and configures a new zerolog logger
func New(logLevel string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	// Human-readable output in development
	if os.Getenv("APP_ENV") == "development" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "stakepool").
		Logger()
}

// WithComponent adds the component name to logger context
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithWorker adds worker ID to logger context
func WithWorker(logger zerolog.Logger, workerID string) zerolog.Logger {
	return logger.With().Str("worker_id", workerID).Logger()
}

// WithPool adds the pool address to logger context
func WithPool(logger zerolog.Logger, pool string) zerolog.Logger {
	return logger.With().Str("pool", pool).Logger()
}

// WithOwner adds the position owner to logger context
func WithOwner(logger zerolog.Logger, owner string) zerolog.Logger {
	return logger.With().Str("owner", owner).Logger()
}

// WithOperation adds the queued operation ID and kind to logger context
func WithOperation(logger zerolog.Logger, id, kind string) zerolog.Logger {
	return logger.With().Str("operation_id", id).Str("operation", kind).Logger()
}
