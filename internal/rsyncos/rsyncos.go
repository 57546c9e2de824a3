// Package rsyncos carries the process-level environment (standard streams,
// sandboxing knobs) through the call chain instead of reaching for the
// globals in package os, so that tests and embedders can supply their own.
package rsyncos

import (
	"io"

	"github.com/kalbhor/grsync/internal/log"
)

// Std is the minimal set of standard streams a server-side connection
// handler needs; unlike Env it carries no CLI-parsing state.
type Std struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Env is the full process environment threaded through argument parsing and
// the top-level client/daemon entry points.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// DontRestrict disables OS-level sandboxing (internal/restrict), used
	// when a parent process has already applied a restriction and stacking
	// a second layer would conflict with it.
	DontRestrict bool
}

// Logf writes a timestamped diagnostic line to Stderr.
func (e *Env) Logf(format string, v ...any) {
	log.New(e.Stderr).Printf(format, v...)
}

// Restrict reports whether OS-level sandboxing should be applied.
func (e *Env) Restrict() bool {
	return !e.DontRestrict
}

// Std returns the subset of e used by server-side connection handlers.
func (e *Env) Std() Std {
	return Std{Stdin: e.Stdin, Stdout: e.Stdout, Stderr: e.Stderr}
}
