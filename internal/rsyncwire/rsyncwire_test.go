package rsyncwire

import (
	"bytes"
	"testing"
)

func TestIndexCodecRoundTripIncreasing(t *testing.T) {
	indices := []int32{0, 1, 2, 10, 253, 254, 300, 0x7FFF, 0x8000, 1 << 20}

	var buf bytes.Buffer
	wc := NewIndexCodec()
	for _, idx := range indices {
		if err := wc.WriteIndex(&buf, idx); err != nil {
			t.Fatalf("WriteIndex(%d): %v", idx, err)
		}
	}

	rc := NewIndexCodec()
	for _, want := range indices {
		got, err := rc.ReadIndex(&buf)
		if err != nil {
			t.Fatalf("ReadIndex: %v", err)
		}
		if got != want {
			t.Errorf("ReadIndex = %d, want %d", got, want)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes left unread after round trip", buf.Len())
	}
}

func TestIndexCodecRoundTripNegative(t *testing.T) {
	indices := []int32{-1, -2, -3, -300, -0x8000, -(1 << 20)}

	var buf bytes.Buffer
	wc := NewIndexCodec()
	for _, idx := range indices {
		if err := wc.WriteIndex(&buf, idx); err != nil {
			t.Fatalf("WriteIndex(%d): %v", idx, err)
		}
	}

	rc := NewIndexCodec()
	for _, want := range indices {
		got, err := rc.ReadIndex(&buf)
		if err != nil {
			t.Fatalf("ReadIndex: %v", err)
		}
		if got != want {
			t.Errorf("ReadIndex = %d, want %d", got, want)
		}
	}
}

// A raw end-of-list byte decodes as 0 without consuming anything else, the
// sentinel GenerateFiles/RecvFiles rely on to know the index stream is done.
func TestIndexCodecEndOfList(t *testing.T) {
	var buf bytes.Buffer
	if err := buf.WriteByte(0); err != nil {
		t.Fatal(err)
	}

	rc := NewIndexCodec()
	got, err := rc.ReadIndex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("ReadIndex = %d, want 0", got)
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes left unread", buf.Len())
	}
}

// A non-increasing diff is the codec misuse this type exists to catch:
// indices must be written in strictly increasing order within a sign.
func TestIndexCodecRejectsNonIncreasing(t *testing.T) {
	var buf bytes.Buffer
	wc := NewIndexCodec()
	if err := wc.WriteIndex(&buf, 5); err != nil {
		t.Fatal(err)
	}
	if err := wc.WriteIndex(&buf, 5); err == nil {
		t.Fatal("WriteIndex with a repeated index: got nil error, want non-nil")
	}
}
