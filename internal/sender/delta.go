package sender

import (
	"bytes"
	"os"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/rsyncchecksum"
)

// chunkSize bounds how much literal data accumulates before being flushed
// as one token, keeping a single non-matching run from growing unbounded.
const chunkSize = 32 * 1024

type blockChecksum struct {
	weak   uint32
	strong []byte
}

// blockTable indexes a Generator's checksum table by weak checksum so the
// scanner can cheaply test each window position for a candidate match.
type blockTable struct {
	byWeak          map[uint32][]int // weak checksum -> indices into sums
	sums            []blockChecksum
	blockLength     int32
	remainderLength int32
	count           int32
}

func newBlockTable(sh rsync.SumHead, sums []blockChecksum) *blockTable {
	t := &blockTable{
		sums:            sums,
		blockLength:     sh.BlockLength,
		remainderLength: sh.RemainderLength,
		count:           sh.ChecksumCount,
		byWeak:          make(map[uint32][]int, len(sums)),
	}
	for i, s := range sums {
		t.byWeak[s.weak] = append(t.byWeak[s.weak], i)
	}
	return t
}

func (t *blockTable) blockLen(index int) int {
	if int32(index) == t.count-1 && t.remainderLength != 0 {
		return int(t.remainderLength)
	}
	return int(t.blockLength)
}

// match returns the matching block index for the window [data[pos:pos+winLen]],
// or -1 if no block's checksum matches it.
func (t *blockTable) match(data []byte, pos, winLen int, weak uint32, seed int32) int {
	candidates := t.byWeak[weak]
	if len(candidates) == 0 {
		return -1
	}
	var strong []byte
	for _, idx := range candidates {
		if t.blockLen(idx) != winLen {
			continue
		}
		if strong == nil {
			full := rsyncchecksum.Strong(data[pos:pos+winLen], seed)
			strong = full[:]
		}
		cs := t.sums[idx]
		if bytes.Equal(strong[:len(cs.strong)], cs.strong) {
			return idx
		}
	}
	return -1
}

// sendFile scans the file at path against the Generator's block-checksum
// table and emits the token stream the Receiver expects: positive tokens
// are literal-chunk lengths followed by that many bytes, zero ends the
// file, and a negative token -(index+1) means "copy block index verbatim
// from the basis file" (rsync/sender.c:send_files / match.c:match_sums).
func (st *Transfer) sendFile(path string, sh rsync.SumHead, sums []blockChecksum) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	table := newBlockTable(sh, sums)
	var literal []byte

	flush := func() error {
		for len(literal) > 0 {
			n := len(literal)
			if n > chunkSize {
				n = chunkSize
			}
			if err := st.Conn.WriteInt32(int32(n)); err != nil {
				return err
			}
			if _, err := st.Conn.Writer.Write(literal[:n]); err != nil {
				return err
			}
			literal = literal[n:]
		}
		return nil
	}

	pos := 0
	var w rsyncchecksum.Weak
	haveWeak := false
	for pos < len(data) {
		winLen := int(sh.BlockLength)
		if pos+winLen > len(data) {
			winLen = len(data) - pos
		}
		if sh.ChecksumCount > 0 && winLen > 0 {
			// The window only ever slides forward by one byte (the literal
			// path below), so once it's established it can be rolled in
			// O(1) instead of resummed from scratch; a match jumps pos by
			// winLen and a shrinking tail window both invalidate it.
			if haveWeak && winLen == int(sh.BlockLength) {
				w = w.Roll(data[pos-1], data[pos+winLen-1])
			} else {
				w = rsyncchecksum.NewWeak(data[pos : pos+winLen])
			}
			haveWeak = true
			weak := w.Sum()
			if idx := table.match(data, pos, winLen, weak, st.Seed); idx >= 0 {
				if err := flush(); err != nil {
					return err
				}
				if err := st.Conn.WriteInt32(int32(-(idx + 1))); err != nil {
					return err
				}
				pos += winLen
				haveWeak = false
				continue
			}
		} else {
			haveWeak = false
		}
		literal = append(literal, data[pos])
		pos++
		if len(literal) >= chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := st.Conn.WriteInt32(0); err != nil {
		return err
	}

	sum, err := rsyncchecksum.WholeFile(bytes.NewReader(data), st.Seed)
	if err != nil {
		return err
	}
	_, err = st.Conn.Writer.Write(sum[:])
	return err
}
