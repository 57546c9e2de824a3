// Package rsyncchecksum implements the two checksums the delta-transfer
// algorithm relies on: the cheap rolling "weak" checksum used to slide a
// window across a file looking for block matches, and the MD5-based
// "strong" checksum (seeded per session) used to confirm a weak-checksum hit
// and to verify whole files once reconstructed.
//
// Protocol 30 uses MD5 for the strong checksum, not the MD4 that older
// rsync versions (and this module's own early prototype) used.
package rsyncchecksum

import (
	"crypto/md5"
	"encoding/binary"
	"hash"
	"io"
)

// BlockLength is the minimum block size the block-size policy below ever
// picks, matching upstream rsync's BLOCK_SIZE.
const BlockLength = 700

// SumLength is the full (untruncated) strong-checksum length in bytes. MD5
// produces 16 bytes; protocol 30 may truncate this per file based on a
// negotiated checksum-length, but 16 is the ceiling.
const SumLength = md5.Size

// Weak holds the running state of the rolling checksum defined by
// Tridgell & Mackerras: for a window of bytes b_0..b_{L-1},
//
//	s1 = Σ b_i
//	s2 = Σ (L-i)·b_i
//
// Both accumulate mod 2^32, and the two halves are packed into a single
// 32-bit value by Sum. Roll updates the window in O(1) as it slides forward
// one byte at a time, avoiding an O(L) rescan per byte.
type Weak struct {
	s1, s2 uint32
	length uint32
}

// NewWeak computes the rolling checksum of the given window from scratch.
func NewWeak(window []byte) Weak {
	var w Weak
	w.length = uint32(len(window))
	for i, b := range window {
		w.s1 += uint32(b)
		w.s2 += (w.length - uint32(i)) * uint32(b)
	}
	return w
}

// Sum returns the combined 32-bit rolling checksum value, as placed on the
// wire: the low 16 bits of s1 in the low half, s2 in the high half.
func (w Weak) Sum() uint32 {
	return (w.s2 << 16) | (w.s1 & 0xffff)
}

// Roll slides the window forward by one byte: out leaves the window at the
// front, in enters it at the back. The window length does not change.
func (w Weak) Roll(out, in byte) Weak {
	w.s1 = w.s1 - uint32(out) + uint32(in)
	w.s2 = w.s2 - w.length*uint32(out) + w.s1
	return w
}

// Strong computes the seeded MD5 digest of data: MD5(data ∥ seed), where
// seed is serialized little-endian as a 4-byte int32, matching the
// whole-file and per-block strong checksums exchanged on the wire.
func Strong(data []byte, seed int32) [SumLength]byte {
	h := NewStrongHash(seed)
	h.Write(data)
	var sum [SumLength]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// NewStrongHash returns an MD5 hash.Hash primed with the session checksum
// seed. Callers stream file contents through it (optionally via
// io.MultiWriter alongside the destination file) and call Sum when done.
func NewStrongHash(seed int32) hash.Hash {
	h := md5.New()
	// Errors from hash.Hash.Write are always nil; binary.Write only
	// returns an error if the underlying writer does, which md5's never
	// does.
	binary.Write(h, binary.LittleEndian, seed)
	return h
}

// WholeFile computes the seeded strong checksum of an entire stream,
// without holding it all in memory.
func WholeFile(r io.Reader, seed int32) ([SumLength]byte, error) {
	h := NewStrongHash(seed)
	if _, err := io.Copy(h, r); err != nil {
		return [SumLength]byte{}, err
	}
	var sum [SumLength]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// SumSizesSqroot picks the block length and truncated checksum length for a
// file of the given size, mirroring upstream rsync's sum_sizes_sqroot: the
// block length is the integer square root of the file length, floored at
// BlockLength and always even. The checksum length is always the full
// SumLength; it does not vary with file size.
//
// Both peers must derive identical values from the same file size, since
// only the size (not the policy) travels on the wire.
func SumSizesSqroot(length int64) (blockLength, checksumLength int32) {
	blockLength = isqrt(length)
	if blockLength < BlockLength {
		blockLength = BlockLength
	}
	// Round up to an even number of bytes; upstream rsync does this so
	// the block length is always divisible by 2.
	if blockLength%2 != 0 {
		blockLength++
	}
	checksumLength = SumLength
	return blockLength, checksumLength
}

func isqrt(n int64) int32 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return int32(x)
}

// BlockCount returns the number of fixed-size blocks (of blockLength bytes
// each) a file of the given length is divided into, plus the length of the
// final, possibly short, remainder block (0 if length is an exact
// multiple).
func BlockCount(length int64, blockLength int32) (count int32, remainder int32) {
	if blockLength <= 0 {
		return 0, 0
	}
	count = int32((length + int64(blockLength) - 1) / int64(blockLength))
	remainder = int32(length % int64(blockLength))
	return count, remainder
}
