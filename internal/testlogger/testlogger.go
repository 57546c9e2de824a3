// Package testlogger adapts *testing.T into an io.Writer, so server and
// client code that wants an io.Writer for diagnostics can have its output
// folded into the enclosing test's log instead of os.Stderr.
package testlogger

import (
	"io"
	"testing"
)

type writer struct {
	t testing.TB
}

func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}

// New returns an io.Writer that logs every write via t.Logf.
func New(t testing.TB) io.Writer {
	return &writer{t: t}
}
