// Package logger provides configured zerolog instances for the presolve
// core. The core never logs through a package-level logger; callers build
// one here and pass it down explicitly.
package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// New returns a console logger writing to w at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Disabled returns a logger that discards everything.
func Disabled() zerolog.Logger {
	return zerolog.Nop()
}
