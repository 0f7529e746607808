package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so the rest of the codebase depends on the
// logging contract without importing the third-party module directly.
type Logger = zerolog.Logger

// NewLogger builds the service logger. Development gets a human console
// writer at debug level; everything else emits JSON at info.
func NewLogger(appEnv string) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	var out = zerolog.New(os.Stdout)
	level := zerolog.InfoLevel
	if appEnv == "development" {
		out = out.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		level = zerolog.DebugLevel
	}

	return out.Level(level).With().
		Timestamp().
		Str("service", "tryon").
		Logger()
}
