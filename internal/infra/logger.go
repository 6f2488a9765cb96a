package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages outside infra depend on the
// logging contract rather than the module.
type Logger = zerolog.Logger

// NewLogger constructs the service logger. Development runs log at debug
// level through the console writer; everything else emits JSON at info.
func NewLogger(appEnv string) Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "promptcraft").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// LoggerOrDiscard returns l, or a logger that drops everything when l is nil.
func LoggerOrDiscard(l *Logger) *Logger {
	if l != nil {
		return l
	}
	discard := zerolog.New(io.Discard)
	return &discard
}

// Component derives a child logger tagged with the component name.
func Component(l *Logger, name string) *Logger {
	child := LoggerOrDiscard(l).With().Str("component", name).Logger()
	return &child
}
