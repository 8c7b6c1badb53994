// Package logging wires the worker's structured logging on top of
// zerolog. The Config/Level shape mirrors the trading bot this worker was
// adapted from; the rendering underneath is zerolog's.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog.Level so callers never import zerolog directly
// just to pick a severity.
type Level = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
	FATAL = zerolog.FatalLevel
)

// ParseLevel converts a string to a Level, defaulting to INFO on anything
// unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Config holds logger configuration.
type Config struct {
	Level      string // DEBUG, INFO, WARN, ERROR, FATAL
	Output     string // "stdout", "stderr", or a file path
	Component  string
	JSONFormat bool // false renders zerolog's human-readable console writer
}

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// New creates a zerolog.Logger with the given configuration.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			output = f
		}
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	if cfg.Component != "" {
		logger = logger.With().Str("component", cfg.Component).Logger()
	}

	return logger
}

// Default returns the process-wide default logger, initialized once to a
// JSON writer on stdout at INFO level.
func Default() zerolog.Logger {
	once.Do(func() {
		defaultLogger = New(Config{Level: "INFO", Output: "stdout", Component: "oracle-worker", JSONFormat: true})
	})
	return defaultLogger
}

// SetDefault overrides the process-wide default logger.
func SetDefault(l zerolog.Logger) {
	once.Do(func() {})
	defaultLogger = l
}
