// Package log provides the small logging interface used throughout the
// rsync implementation: a Logger can be swapped for testing or embedding,
// while Printf/SetLogger offer a package-level default for code that has no
// natural place to carry a *Logger around.
package log

import (
	"io"
	"log"
	"sync"
)

// Logger is the logging interface satisfied by *log.Logger (and by test
// doubles that just want to capture output).
type Logger interface {
	Printf(format string, v ...any)
}

// New returns a Logger writing to w, timestamped the way the standard
// library's log package does.
func New(w io.Writer) Logger {
	return log.New(w, "", log.LstdFlags)
}

var (
	mu      sync.Mutex
	current Logger = log.New(io.Discard, "", log.LstdFlags)
)

// SetLogger replaces the package-level default logger used by Printf.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Printf logs via the package-level default logger set by SetLogger.
func Printf(format string, v ...any) {
	mu.Lock()
	l := current
	mu.Unlock()
	l.Printf(format, v...)
}

// Prefixed wraps l so that every message is prefixed with the given string,
// used to label output when multiple roles (sender, receiver, generator)
// log through the same writer.
func Prefixed(l Logger, prefix string) Logger {
	return prefixedLogger{l: l, prefix: prefix}
}

type prefixedLogger struct {
	l      Logger
	prefix string
}

func (p prefixedLogger) Printf(format string, v ...any) {
	p.l.Printf(p.prefix+": "+format, v...)
}
