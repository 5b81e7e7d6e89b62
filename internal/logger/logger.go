package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const serviceName = "clan-tracker"

// New builds the process logger. LOG_LEVEL is read straight from the
// environment because the logger exists before the config is parsed.
func New() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger()
}

var Module = fx.Provide(New)
