package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New constructs a zerolog.Logger for the given environment. Development gets
// a human-readable console writer and debug level; everything else emits JSON.
func New(appEnv string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	return logger
}

// Setup installs the logger as the process-wide zerolog logger.
func Setup(appEnv string) zerolog.Logger {
	logger := New(appEnv, os.Stdout)
	zerolog.DurationFieldUnit = time.Second
	log.Logger = logger
	return logger
}
