// Package rsyncerr classifies the error kinds rsync's own main.c
// distinguishes (protocol, transport, security/session-setup, per-file,
// configuration, argument) and maps them to the conventional exit codes a
// caller of this module's CLI entry point should surface.
package rsyncerr

import "errors"

// Code is a process exit status, matching the meanings rsync(1) documents.
type Code int

const (
	CodeSuccess         Code = 0
	CodeUsage           Code = 1
	CodeSessionSetup    Code = 5
	CodeProtocol        Code = 10
	CodePartialTransfer Code = 23
)

// codedError tags err with the exit code its kind maps to.
type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// Usage wraps an argument/CLI-usage error (rsync exit code 1).
func Usage(err error) error { return wrap(CodeUsage, err) }

// SessionSetup wraps an authentication or module-resolution failure
// (rsync exit code 5).
func SessionSetup(err error) error { return wrap(CodeSessionSetup, err) }

// Protocol wraps a malformed-wire or transport-level failure
// (rsync exit code 10).
func Protocol(err error) error { return wrap(CodeProtocol, err) }

// PartialTransfer wraps a summary error reported when one or more
// individual files failed but the session otherwise completed
// (rsync exit code 23).
func PartialTransfer(err error) error { return wrap(CodePartialTransfer, err) }

func wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// ExitCode reports the process exit status that corresponds to err. Errors
// not explicitly classified by this package are treated as protocol/
// transport failures, matching spec's "fatal to the session" default for
// unrecognized errors.
func ExitCode(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeProtocol
}
