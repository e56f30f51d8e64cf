// Package corertlog adapts github.com/rs/zerolog to the small Logger
// seams (Debugf/Errorf) that reactor, netsrv and offload declare (netcli
// takes a reactor.Logger), so a process wires one concrete
// structured-logging backend in behind all of them.
package corertlog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger to satisfy every package-local Logger
// interface in this module (they all reduce to Debugf/Errorf).
type Logger struct {
	zl zerolog.Logger
}

// New constructs a Logger writing structured, colorized console output
// to stderr via zerolog.ConsoleWriter, suitable for development use.
func New(component string) Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return Logger{zl: zl}
}

// NewJSON constructs a Logger emitting newline-delimited JSON to stdout,
// the shape a process would use in production rather than the
// console-formatted New.
func NewJSON(component string) Logger {
	zl := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return Logger{zl: zl}
}

func (l Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}
