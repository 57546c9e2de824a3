// Package rsyncwire implements the low-level framed duplex channel that
// every rsync session runs on top of: little-endian integer codecs, the
// variable-length long codec, the file-index delta codec, byte counters for
// statistics, and the multiplexed reader/writer pair used once the banner
// handshake has completed.
package rsyncwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kalbhor/grsync"
)

// Conn bundles the reader and writer halves of a session. Reader is
// typically a *bufio.Reader wrapping a CountingReader; Writer starts out as
// a CountingWriter and is swapped for a *MultiplexWriter once the session
// switches to the multiplexed wire format (mirroring the way the daemon and
// client code paths assign c.Writer = mpx after the greeting).
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (c *Conn) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadInt64 follows rsync's encoding: values that fit in an int32 are sent
// as a plain 4-byte integer; larger values are preceded by the sentinel -1
// followed by 8 raw bytes.
func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func (c *Conn) WriteInt64(v int64) error {
	if v >= 0 && v <= 0x7FFFFFFF {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

func (c *Conn) WriteString(s string) error {
	_, err := io.WriteString(c.Writer, s)
	return err
}

// compactMarkers holds the fixed marker bytes used when 2..5 extra bytes
// follow the base low bytes; index i corresponds to extra = i+2. These
// exact values (and fullFormMarker) are reserved and can never appear as a
// literal single extra-byte value, which is what WriteVarlong's escalation
// step guards against.
var compactMarkers = [...]byte{0xC0, 0xE0, 0xF0, 0xF8}

const fullFormMarker = 0xFC

func isReservedMarkerByte(b byte) bool {
	if b == fullFormMarker {
		return true
	}
	for _, m := range compactMarkers {
		if b == m {
			return true
		}
	}
	return false
}

func writeFullForm(w io.Writer, v int64) error {
	if _, err := w.Write([]byte{fullFormMarker}); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// WriteVarlong encodes v using rsync's variable-length long scheme: a marker
// byte comes first, either holding the single extra data byte directly (when
// only one more byte is needed) or a fixed sentinel indicating how many more
// explicit bytes follow, and is followed by the low minBytes-1 bytes
// ("base") plus any extra bytes, falling back to a full 9-byte form (marker ∥ 8 raw bytes)
// for negative values and for magnitudes that need the entire width. A
// conforming implementation must reproduce these encodings byte for byte.
func WriteVarlong(w io.Writer, v int64, minBytes int) error {
	base := minBytes - 1

	if v < 0 {
		return writeFullForm(w, v)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))

	cnt := 8
	for cnt > base+1 && buf[cnt-1] == 0 {
		cnt--
	}
	if cnt >= 8 {
		return writeFullForm(w, v)
	}

	extra := cnt - base
	if extra < 1 {
		extra = 1
	}
	if extra == 1 && isReservedMarkerByte(buf[base]) && extra < len(compactMarkers)+1 {
		extra++
	}

	if extra == 1 {
		if _, err := w.Write([]byte{buf[base]}); err != nil {
			return err
		}
		_, err := w.Write(buf[:base])
		return err
	}

	if extra-2 >= len(compactMarkers) {
		return writeFullForm(w, v)
	}
	marker := compactMarkers[extra-2]
	if _, err := w.Write([]byte{marker}); err != nil {
		return err
	}
	_, err := w.Write(buf[:base+extra])
	return err
}

// ReadVarlong decodes a value written by WriteVarlong.
func ReadVarlong(r io.Reader, minBytes int) (int64, error) {
	base := minBytes - 1

	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}
	m := first[0]

	if m == fullFormMarker {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return int64(binary.LittleEndian.Uint64(buf[:])), nil
	}

	extra := 1
	for i, cm := range compactMarkers {
		if m == cm {
			extra = i + 2
			break
		}
	}

	var buf [8]byte
	if extra == 1 {
		buf[base] = m
		if base > 0 {
			if _, err := io.ReadFull(r, buf[:base]); err != nil {
				return 0, err
			}
		}
	} else {
		if _, err := io.ReadFull(r, buf[:base+extra]); err != nil {
			return 0, err
		}
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// IndexCodec implements the file-index delta codec: indices are transmitted
// as differences from the previous index of the same sign, with a raw 0
// byte marking end-of-list. Callers that need index 0 to be a legitimate
// value (as internal/receiver.GenerateFiles does) must bias indices by +1
// before encoding and undo it after decoding, since an index of 0 and the
// end-of-list byte are otherwise indistinguishable on the wire.
type IndexCodec struct {
	lastPositive int32
	lastNegative int32
}

func NewIndexCodec() *IndexCodec {
	return &IndexCodec{lastPositive: -1, lastNegative: 1}
}

func (ic *IndexCodec) WriteIndex(w io.Writer, idx int32) error {
	if idx < 0 {
		if _, err := w.Write([]byte{0xFF}); err != nil {
			return err
		}
		diff := ic.lastNegative - idx
		ic.lastNegative = idx
		return writeIndexDiff(w, diff)
	}
	diff := idx - ic.lastPositive
	ic.lastPositive = idx
	return writeIndexDiff(w, diff)
}

func writeIndexDiff(w io.Writer, diff int32) error {
	switch {
	case diff <= 0:
		return fmt.Errorf("rsyncwire: non-increasing file index diff %d", diff)
	case diff < 0xFE:
		_, err := w.Write([]byte{byte(diff)})
		return err
	case diff <= 0x7FFF:
		_, err := w.Write([]byte{0xFE, byte(diff >> 8), byte(diff)})
		return err
	default:
		var buf [5]byte
		buf[0] = 0xFE
		buf[1] = byte(diff>>24) | 0x80
		buf[2] = byte(diff >> 16)
		buf[3] = byte(diff >> 8)
		buf[4] = byte(diff)
		_, err := w.Write(buf[:])
		return err
	}
}

// ReadIndex returns the next decoded index, or 0 for the end-of-list
// sentinel.
func (ic *IndexCodec) ReadIndex(r io.Reader) (int32, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}
	if first[0] == 0 {
		return 0, nil
	}
	negative := first[0] == 0xFF
	var b0 byte
	if negative {
		var next [1]byte
		if _, err := io.ReadFull(r, next[:]); err != nil {
			return 0, err
		}
		b0 = next[0]
	} else {
		b0 = first[0]
	}

	var diff int32
	switch {
	case b0 != 0xFE:
		diff = int32(b0)
	default:
		var two [2]byte
		if _, err := io.ReadFull(r, two[:]); err != nil {
			return 0, err
		}
		if two[0]&0x80 != 0 {
			var rest [2]byte
			if _, err := io.ReadFull(r, rest[:]); err != nil {
				return 0, err
			}
			diff = int32(two[0]&^0x80)<<24 | int32(two[1])<<16 | int32(rest[0])<<8 | int32(rest[1])
		} else {
			diff = int32(two[0])<<8 | int32(two[1])
		}
	}
	if negative {
		ic.lastNegative -= diff
		return ic.lastNegative, nil
	}
	ic.lastPositive += diff
	return ic.lastPositive, nil
}

// CountingReader wraps an io.Reader and tracks total bytes read, used to
// report transfer statistics at the end of a session.
type CountingReader struct {
	R  io.Reader
	N  int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

// CountingWriter wraps an io.Writer and tracks total bytes written.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}

// CounterPair wraps r and w in a CountingReader/CountingWriter pair, the
// conventional way every session (daemon or client) bootstraps byte
// counting before any protocol bytes are exchanged.
func CounterPair(r io.Reader, w io.Writer) (*CountingReader, *CountingWriter) {
	return &CountingReader{R: r}, &CountingWriter{W: w}
}

// MultiplexWriter tags every Write call as a DATA frame: a 4-byte
// little-endian header whose low 24 bits are the payload length and whose
// high 8 bits are the MessageCode, followed by the payload.
type MultiplexWriter struct {
	Writer io.Writer
}

func (w *MultiplexWriter) Write(p []byte) (int, error) {
	if err := w.writeFrame(rsync.MsgData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteMsg sends a non-DATA tagged message (info/warning/error text).
func (w *MultiplexWriter) WriteMsg(code rsync.MessageCode, payload []byte) error {
	return w.writeFrame(code, payload)
}

func (w *MultiplexWriter) writeFrame(code rsync.MessageCode, payload []byte) error {
	const maxFrame = 1 << 24
	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > maxFrame-1 {
			chunk = chunk[:maxFrame-1]
		}
		header := uint32(len(chunk)) | uint32(code)<<24
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], header)
		if _, err := w.Writer.Write(buf[:]); err != nil {
			return err
		}
		if _, err := w.Writer.Write(chunk); err != nil {
			return err
		}
		payload = payload[len(chunk):]
	}
	return nil
}

// MessageHandler is invoked for every non-DATA frame the MultiplexReader
// encounters while draining the stream for application data.
type MessageHandler func(code rsync.MessageCode, payload []byte) error

// MultiplexReader splits an incoming byte stream into DATA chunks (returned
// via Read) and control messages (dispatched to Handler). Readers must
// fully drain the currently announced data chunk before the next tag is
// interpreted; that invariant is maintained internally by remaining.
type MultiplexReader struct {
	Reader  io.Reader
	Handler MessageHandler

	remaining int
}

func NewMultiplexReader(r *bufio.Reader, handler MessageHandler) *MultiplexReader {
	return &MultiplexReader{Reader: r, Handler: handler}
}

func (m *MultiplexReader) Read(p []byte) (int, error) {
	for m.remaining == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(m.Reader, hdr[:]); err != nil {
			return 0, err
		}
		header := binary.LittleEndian.Uint32(hdr[:])
		length := int(header & 0xFFFFFF)
		code := rsync.MessageCode(header >> 24)
		if code == rsync.MsgData {
			m.remaining = length
			if length == 0 {
				continue
			}
			break
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(m.Reader, payload); err != nil {
			return 0, fmt.Errorf("rsyncwire: short read in tagged message: %w", err)
		}
		if m.Handler != nil {
			if err := m.Handler(code, payload); err != nil {
				return 0, err
			}
		}
	}
	if len(p) > m.remaining {
		p = p[:m.remaining]
	}
	n, err := io.ReadFull(m.Reader, p)
	m.remaining -= n
	return n, err
}
