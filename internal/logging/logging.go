// Package logging is the thin, package-configurable logging facade used
// by the highway package: a sane no-op default, swappable for a
// real github.com/joeycumines/logiface logger backed by
// github.com/joeycumines/stumpy, the same facade+backend pairing the
// wider module already depends on.
package logging

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the logging interface used throughout this module. It is a
// type alias, not a wrapper, so callers can use the full logiface.Logger
// builder API (Info().Str(...).Log(...)) directly.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger writing newline-delimited JSON via stumpy, the
// module's default backend.
func New(options ...stumpy.Option) *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(options...))
}

// NoOp returns a Logger with logging disabled (LevelDisabled), for use as
// a zero-cost default when the caller configures nothing.
func NoOp() *Logger {
	return stumpy.L.New()
}
