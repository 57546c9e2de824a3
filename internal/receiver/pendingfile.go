package receiver

import (
	"bytes"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// pendingFile wraps a renameio.PendingFile: data is written to a temporary
// file in the destination directory and only renamed into place once the
// whole-file checksum has been verified, so a crash or a checksum mismatch
// never leaves a half-written file at the final path.
type pendingFile struct {
	*renameio.PendingFile
}

func newPendingFile(local string, mode os.FileMode) (*pendingFile, error) {
	pf, err := renameio.NewPendingFile(local,
		renameio.WithPermissions(mode),
		renameio.WithExistingPermissions())
	if err != nil {
		return nil, err
	}
	return &pendingFile{PendingFile: pf}, nil
}

// matchesExisting reports whether existing already holds exactly content,
// letting --defer-write discard a reconstructed file instead of renaming it
// into place: rebuilding the same bytes rsync already has is wasted I/O and
// an unwanted mtime bump.
func matchesExisting(existing *os.File, content []byte) (bool, error) {
	st, err := existing.Stat()
	if err != nil {
		return false, err
	}
	if st.Size() != int64(len(content)) {
		return false, nil
	}
	if _, err := existing.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	got := make([]byte, len(content))
	if _, err := io.ReadFull(existing, got); err != nil {
		return false, err
	}
	return bytes.Equal(got, content), nil
}
