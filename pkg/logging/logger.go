package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	// PairIDKey is the key used to store pair IDs in context
	PairIDKey contextKey = "pair_id"
	// ConnectorKey is the key used to store connector names in context
	ConnectorKey contextKey = "connector"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Pretty determines if logs should be formatted for human readability
	Pretty bool
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
		Output: os.Stdout,
	}
}

// Setup configures global logging based on the provided config
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// FromContext extracts a logger carrying any pair/connector scope stored
// in the context.
func FromContext(ctx context.Context) zerolog.Logger {
	logCtx := log.With()
	if pairID, ok := ctx.Value(PairIDKey).(int); ok {
		logCtx = logCtx.Int("pair_id", pairID)
	}
	if conn, ok := ctx.Value(ConnectorKey).(string); ok {
		logCtx = logCtx.Str("connector", conn)
	}
	return logCtx.Logger()
}

// WithPair returns a context scoped to the given pair ID.
func WithPair(ctx context.Context, pairID int) context.Context {
	return context.WithValue(ctx, PairIDKey, pairID)
}

// WithConnector returns a context scoped to the given connector name.
func WithConnector(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ConnectorKey, name)
}
