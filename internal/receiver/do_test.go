package receiver

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/kalbhor/grsync/internal/log"
	"github.com/kalbhor/grsync/internal/rsyncchecksum"
	"github.com/kalbhor/grsync/internal/rsyncwire"
)

// A destination that cannot be created locally must not desynchronize the
// wire: receiveData has to consume exactly the token stream and trailing
// checksum the peer sends, and report the failure as a *perFileError
// instead of propagating a bare error that would abort the whole transfer.
func TestReceiveDataDrainsStreamOnLocalFailure(t *testing.T) {
	var buf bytes.Buffer
	wc := &rsyncwire.Conn{Writer: &buf}
	if err := wc.WriteInt32(0); err != nil { // ChecksumCount
		t.Fatal(err)
	}
	if err := wc.WriteInt32(0); err != nil { // BlockLength
		t.Fatal(err)
	}
	if err := wc.WriteInt32(0); err != nil { // ChecksumLength
		t.Fatal(err)
	}
	if err := wc.WriteInt32(0); err != nil { // RemainderLength
		t.Fatal(err)
	}
	if err := wc.WriteInt32(5); err != nil { // literal token, 5 bytes
		t.Fatal(err)
	}
	buf.WriteString("hello")
	if err := wc.WriteInt32(0); err != nil { // end of token stream
		t.Fatal(err)
	}
	buf.Write(make([]byte, 16)) // remote MD5 sum, irrelevant once fileErr is set

	rt := &Transfer{
		Logger: log.New(&bytes.Buffer{}),
		Dest:   "/nonexistent-parent-dir-for-grsync-test/child",
		Opts:   &TransferOpts{},
		Conn:   &rsyncwire.Conn{Reader: &buf},
	}
	f := &File{Name: "somefile"}

	err := rt.receiveData(f, nil)
	if err == nil {
		t.Fatal("expected error from receiveData, got nil")
	}
	var pfe *perFileError
	if !errors.As(err, &pfe) {
		t.Fatalf("receiveData error = %v (%T), want *perFileError", err, err)
	}

	// The stream must be fully drained: nothing left to read.
	if buf.Len() != 0 {
		t.Errorf("%d bytes left unread on the wire after receiveData", buf.Len())
	}
}

func TestRecvFilesTalliesPerFileErrorsAndContinues(t *testing.T) {
	var buf bytes.Buffer
	wc := &rsyncwire.Conn{Writer: &buf}

	writeEmptySum := func() {
		wc.WriteInt32(0)
		wc.WriteInt32(0)
		wc.WriteInt32(0)
		wc.WriteInt32(0)
	}
	writeEmptyBody := func() {
		wc.WriteInt32(0) // end of token stream immediately
		buf.Write(make([]byte, 16))
	}

	ic := rsyncwire.NewIndexCodec()

	// File 0: fails to create locally.
	if err := ic.WriteIndex(&buf, 0+1); err != nil {
		t.Fatal(err)
	}
	writeEmptySum()
	writeEmptyBody()

	// File 1: also fails to create locally.
	if err := ic.WriteIndex(&buf, 1+1); err != nil {
		t.Fatal(err)
	}
	writeEmptySum()
	writeEmptyBody()

	// End of phase one, then end of phase two (no resends).
	if err := wc.WriteByte(0); err != nil {
		t.Fatal(err)
	}
	if err := wc.WriteInt32(-1); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	rt := &Transfer{
		Logger: log.New(&bytes.Buffer{}),
		Dest:   dest,
		Opts:   &TransferOpts{},
		Conn:   &rsyncwire.Conn{Reader: bytes.NewReader(buf.Bytes())},
	}
	if err := rt.OpenDestRoot(); err != nil {
		t.Fatal(err)
	}
	// Both names live under a subdirectory that is never created, so each
	// file's local create fails without touching the other.
	fileList := []*File{{Name: "missing-dir/a"}, {Name: "missing-dir/b"}}

	if err := rt.RecvFiles(fileList); err != nil {
		t.Fatalf("RecvFiles returned %v, want nil (per-file errors must not abort)", err)
	}
	if rt.IOErrors != 2 {
		t.Errorf("IOErrors = %d, want 2", rt.IOErrors)
	}
}

// A whole-file checksum mismatch is resent once: the first, corrupted
// attempt must not count against IOErrors as long as the retried attempt
// checks out.
func TestRecvFilesRetriesChecksumMismatchOnce(t *testing.T) {
	const seed = int32(0)
	content := []byte("ab")
	goodSum := rsyncchecksum.Strong(content, seed)
	badSum := make([]byte, len(goodSum))

	var buf bytes.Buffer
	wc := &rsyncwire.Conn{Writer: &buf}
	writeEmptySum := func() {
		wc.WriteInt32(0)
		wc.WriteInt32(0)
		wc.WriteInt32(0)
		wc.WriteInt32(0)
	}
	writeBody := func(sum []byte) {
		wc.WriteInt32(int32(len(content)))
		buf.Write(content)
		wc.WriteInt32(0) // end of token stream
		buf.Write(sum)
	}

	ic := rsyncwire.NewIndexCodec()

	// First attempt at file 0: corrupted.
	ic.WriteIndex(&buf, 0+1)
	writeEmptySum()
	writeBody(badSum)

	// End of phase one.
	wc.WriteByte(0)

	// Resend of file 0: this time correct, as a plain (unbiased) index.
	wc.WriteInt32(0)
	writeEmptySum()
	writeBody(goodSum[:])

	// End of phase two.
	wc.WriteInt32(-1)

	dest := t.TempDir()
	rt := &Transfer{
		Logger: log.New(&bytes.Buffer{}),
		Dest:   dest,
		Opts:   &TransferOpts{},
		Conn:   &rsyncwire.Conn{Reader: bytes.NewReader(buf.Bytes())},
		Seed:   seed,
		redo:   make(chan int32, 1),
	}
	if err := rt.OpenDestRoot(); err != nil {
		t.Fatal(err)
	}
	fileList := []*File{{Name: "f"}}

	if err := rt.RecvFiles(fileList); err != nil {
		t.Fatalf("RecvFiles returned %v, want nil", err)
	}
	if rt.IOErrors != 0 {
		t.Errorf("IOErrors = %d, want 0 (resend should have succeeded)", rt.IOErrors)
	}
	got, err := os.ReadFile(dest + "/f")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("file content = %q, want %q", got, content)
	}
}
