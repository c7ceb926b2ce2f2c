// Package logging wires up zerolog for the engine's components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog defaults and returns a base logger.
// debug enables console-pretty output with debug-level verbosity; otherwise
// logs are emitted as JSON at info level, suitable for production capture.
func Init(debug bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	level := zerolog.InfoLevel
	if debug {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(level)
	zerolog.SetGlobalLevel(level)
	return logger
}

// Component returns a child logger tagged with the given component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
