package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the application logger. Development gets human-readable console
// output at debug level; every other environment logs JSON at info level.
func New(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(zerolog.DebugLevel).
			With().
			Timestamp().
			Str("service", "region-service").
			Logger()
	}

	return zerolog.New(os.Stdout).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Str("service", "region-service").
		Logger()
}
