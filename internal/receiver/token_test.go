package receiver

import (
	"bytes"
	"testing"

	"github.com/kalbhor/grsync/internal/rsyncwire"
)

func newConn(data []byte) *rsyncwire.Conn {
	return &rsyncwire.Conn{Reader: bytes.NewReader(data)}
}

func TestRecvTokenLiteral(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Writer: &buf}
	if err := c.WriteInt32(5); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("hello")

	rt := &Transfer{Conn: newConn(buf.Bytes())}
	token, data, err := rt.recvToken()
	if err != nil {
		t.Fatal(err)
	}
	if token != 5 {
		t.Errorf("token = %d, want 5", token)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want %q", data, "hello")
	}
}

func TestRecvTokenBasisBlock(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Writer: &buf}
	// A negative token of -(n+1) identifies basis block n; encode block 3.
	if err := c.WriteInt32(-4); err != nil {
		t.Fatal(err)
	}

	rt := &Transfer{Conn: newConn(buf.Bytes())}
	token, data, err := rt.recvToken()
	if err != nil {
		t.Fatal(err)
	}
	if token != -4 {
		t.Errorf("token = %d, want -4", token)
	}
	if data != nil {
		t.Errorf("data = %q, want nil", data)
	}
}

func TestRecvTokenEnd(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Writer: &buf}
	if err := c.WriteInt32(0); err != nil {
		t.Fatal(err)
	}

	rt := &Transfer{Conn: newConn(buf.Bytes())}
	token, data, err := rt.recvToken()
	if err != nil {
		t.Fatal(err)
	}
	if token != 0 {
		t.Errorf("token = %d, want 0", token)
	}
	if data != nil {
		t.Errorf("data = %q, want nil", data)
	}
}
