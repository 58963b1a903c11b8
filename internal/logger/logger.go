// Package logger provides structured logging for datamart.
//
// It wraps zerolog with a small amount of project-specific setup: a global
// logger configured once at startup from the logging section of the config,
// and component-scoped sub-loggers so that store, index and reindex output
// can be filtered independently.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to emit: debug, info, warn or error.
	Level string

	// Pretty enables human-readable console output for development.
	Pretty bool

	// Output is the destination writer. Defaults to stdout when nil.
	Output io.Writer
}

var root = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger. Call once at process start, before any
// component loggers are created.
func Init(cfg Config) {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	root = zerolog.New(output).With().Timestamp().Str("service", "datamart").Logger()
}

// Root returns the global logger.
func Root() *zerolog.Logger {
	return &root
}

// Component returns a logger scoped to a named component.
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// Store returns the logger for the storage core.
func Store() zerolog.Logger {
	return Component("store")
}

// Index returns the logger for the search index projector.
func Index() zerolog.Logger {
	return Component("index")
}

// Payload returns the logger for payload stores.
func Payload() zerolog.Logger {
	return Component("payload")
}
