package receiver

import (
	"io"
	"os"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/rsyncchecksum"
	"github.com/kalbhor/grsync/internal/rsyncwire"
)

// GenerateFiles walks the file list segment by segment, decides which files
// already match the destination (and can be elided entirely), and for every
// other file sends the Sender a file index followed by a block-checksum
// table computed against whatever basis file already exists locally
// (rsync/generator.c). A segment is removed from rt.Segments once every
// file in it has been decided, confirming to the live segment set that
// nothing in it is still outstanding.
func (rt *Transfer) GenerateFiles(fileList []*File) error {
	// Indices are delta-coded and biased +1 so that the codec's own 0
	// end-of-list marker (internal/rsyncwire.IndexCodec) never collides
	// with a legitimate file index 0.
	ic := rsyncwire.NewIndexCodec()

	segments := rt.Segments.Segments()
	for _, seg := range segments {
		for i, f := range seg.Files {
			idx := seg.StartIndex + i
			if f.IsPruned || !f.IsRegular() {
				continue
			}

			basis, basisInfo, err := rt.openBasisFile(f)
			if err != nil {
				return err
			}

			if basis != nil && !rt.Opts.DryRun && !rt.Opts.AlwaysChecksum && basisInfo.Size() == f.Size && basisInfo.ModTime().Unix() == f.ModTime {
				basis.Close()
				continue
			}

			if err := ic.WriteIndex(rt.Conn.Writer, int32(idx)+1); err != nil {
				if basis != nil {
					basis.Close()
				}
				return err
			}

			sh, sums, err := computeBlockSums(basis, rt.Seed)
			if basis != nil {
				basis.Close()
			}
			if err != nil {
				return err
			}

			if err := sh.WriteTo(rt.Conn); err != nil {
				return err
			}
			for _, s := range sums {
				if err := rt.Conn.WriteInt32(int32(s.weak)); err != nil {
					return err
				}
				if _, err := rt.Conn.Writer.Write(s.strong[:sh.ChecksumLength]); err != nil {
					return err
				}
			}
		}
		rt.Segments.RemoveSegment(seg)
	}

	// End of phase one (rsync/generator.c:generate_files), signaled on the
	// wire by the index codec's own end-of-list byte rather than by a
	// biased index. The Receiver queues any whole-file checksum mismatches
	// on rt.redo as it drains phase one, then closes it once it has seen
	// this; ranging over it here requests exactly one resend per
	// mismatched file before the transfer is declared over. Resend
	// requests fall back to plain indices afterwards (below), since a
	// resent index repeats a value the codec already emitted in phase one
	// and so cannot be diff-encoded against it.
	if err := rt.Conn.WriteByte(0); err != nil {
		return err
	}

	if rt.redo != nil {
		for idx := range rt.redo {
			if err := rt.Conn.WriteInt32(idx); err != nil {
				return err
			}
			sh, _, err := computeBlockSums(nil, rt.Seed) // force a literal resend
			if err != nil {
				return err
			}
			if err := sh.WriteTo(rt.Conn); err != nil {
				return err
			}
		}
	}

	return rt.Conn.WriteInt32(-1)
}

func (rt *Transfer) openBasisFile(f *File) (*os.File, os.FileInfo, error) {
	if rt.DestRoot == nil {
		return nil, nil, nil
	}
	basis, err := rt.DestRoot.Open(f.Name)
	if err != nil {
		return nil, nil, nil
	}
	st, err := basis.Stat()
	if err != nil || !st.Mode().IsRegular() {
		basis.Close()
		return nil, nil, nil
	}
	return basis, st, nil
}

type blockSum struct {
	weak   uint32
	strong [rsyncchecksum.SumLength]byte
}

// computeBlockSums builds the block-checksum table for basis (nil means no
// local file exists, yielding an empty table so the Sender transfers the
// whole file as literal data).
func computeBlockSums(basis *os.File, seed int32) (rsync.SumHead, []blockSum, error) {
	if basis == nil {
		return rsync.SumHead{
			BlockLength:    rsyncchecksum.BlockLength,
			ChecksumLength: rsyncchecksum.SumLength,
		}, nil, nil
	}

	st, err := basis.Stat()
	if err != nil {
		return rsync.SumHead{}, nil, err
	}

	blockLength, checksumLength := rsyncchecksum.SumSizesSqroot(st.Size())
	count, remainder := rsyncchecksum.BlockCount(st.Size(), blockLength)

	sh := rsync.SumHead{
		ChecksumCount:   count,
		BlockLength:     blockLength,
		ChecksumLength:  checksumLength,
		RemainderLength: remainder,
	}

	sums := make([]blockSum, 0, count)
	buf := make([]byte, blockLength)
	for i := int32(0); i < count; i++ {
		n := int(blockLength)
		if i == count-1 && remainder != 0 {
			n = int(remainder)
		}
		if _, err := io.ReadFull(basis, buf[:n]); err != nil {
			return rsync.SumHead{}, nil, err
		}
		sums = append(sums, blockSum{
			weak:   rsyncchecksum.NewWeak(buf[:n]).Sum(),
			strong: rsyncchecksum.Strong(buf[:n], seed),
		})
	}

	return sh, sums, nil
}
