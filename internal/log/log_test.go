package log

import (
	"strings"
	"testing"
)

type buf struct{ s strings.Builder }

func (b *buf) Printf(format string, v ...any) {
	b.s.WriteString(format)
}

func TestSetLoggerAndPrintf(t *testing.T) {
	var b buf
	SetLogger(&b)
	Printf("hello %d", 42)
	if !strings.Contains(b.s.String(), "hello") {
		t.Errorf("Printf did not reach the installed logger: %q", b.s.String())
	}
}

func TestPrefixed(t *testing.T) {
	var b buf
	p := Prefixed(&b, "sender")
	p.Printf("starting")
	if got := b.s.String(); !strings.HasPrefix(got, "sender: ") {
		t.Errorf("Prefixed = %q, want prefix %q", got, "sender: ")
	}
}
