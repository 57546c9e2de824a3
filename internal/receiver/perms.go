package receiver

import (
	"os"
	"path/filepath"
	"time"
)

// setPerms applies the file-list entry's mode, ownership and mtime to the
// just-written file (rsync/rsync.c:set_file_attrs). Ownership changes are
// best-effort: setUid reports the (possibly stale) file info, which we
// ignore here since only the mode and mtime need to be reapplied
// afterwards.
func (rt *Transfer) setPerms(f *File) error {
	local := filepath.Join(rt.Dest, f.Name)

	if rt.Opts.PreservePerms {
		if err := os.Chmod(local, os.FileMode(f.Mode&0o7777)); err != nil {
			return err
		}
	}

	if rt.Opts.PreserveUid || rt.Opts.PreserveGid {
		st, err := os.Lstat(local)
		if err == nil {
			if _, err := rt.setUid(f, local, st); err != nil {
				rt.Logger.Printf("setUid(%s): %v, continuing", local, err)
			}
		}
	}

	if rt.Opts.PreserveTimes {
		mtime := time.Unix(f.ModTime, 0)
		if err := os.Chtimes(local, mtime, mtime); err != nil {
			return err
		}
	}

	return nil
}
