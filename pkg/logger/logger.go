package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the level and output format of a logger.
type Options struct {
	Level       string
	Format      string
	Environment string
	Service     string
}

// New creates a zerolog logger. Development environments and the "console"
// format get pretty output, everything else is JSON.
func New(opts Options) zerolog.Logger {
	return newWithWriter(opts, os.Stdout)
}

func newWithWriter(opts Options, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	service := opts.Service
	if service == "" {
		service = "fndparking-admin"
	}

	if opts.Environment == "development" || opts.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(ParseLevel(opts.Level)).
			With().
			Timestamp().
			Caller().
			Str("service", service).
			Logger()
	}

	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
