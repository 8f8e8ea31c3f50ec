// Package logging configures the zerolog logger shared by fetchers, storage
// and ingestion jobs.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration, usually taken from the [log] section
// of the config file.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Unknown or empty
	// values log at info.
	Level string

	// Pretty switches from JSON lines to console output.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: os.Stderr,
	}
}

// Setup installs the global logger that NewLogger derives from and returns it.
func Setup(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	return log.Logger
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger returns a child of the global logger tagged with component.
// Call it after Setup; loggers created earlier keep the old output.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Dataset returns a child logger tagged with the dataset endpoint.
func Dataset(logger zerolog.Logger, endpoint string) zerolog.Logger {
	return logger.With().Str("endpoint", endpoint).Logger()
}

// Levels:
//
//	debug  page requests, backoff decisions, head rows of a fetched table
//	info   page progress, dataset shape, artifact saved and uploaded
//	warn   retries, 429 cooldowns, shared cooldown store unavailable, truncation
//	error  failed fetches, authentication failures, persistence or upload failures
//
// Fields: component, endpoint, offset, rows, status_code, error_class,
// attempt, backoff, delay, job, label, path, key.
