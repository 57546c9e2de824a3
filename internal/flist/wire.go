package flist

import (
	"fmt"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/rsyncwire"
)

// Options controls which optional fields an entry carries, mirroring the
// negotiated preserve-* flags for a transfer.
type Options struct {
	PreserveUid   bool
	PreserveGid   bool
	PreserveLinks bool
}

// WriteEntry writes one file-list entry to c, eliding fields that are
// identical to prev (mode, mtime, uid, gid) per the XMIT_SAME_* flags. prev
// is nil for the first entry of a segment. The name length is always sent
// as a full int32 (XMIT_LONG_NAME) and the file size as a varlong;
// inherited-name-prefix compression (the 0x20 flag) is not used, matching a
// "long names only" policy.
func WriteEntry(c *rsyncwire.Conn, prev, f *File, opts Options) error {
	flags := byte(rsync.XMIT_LONG_NAME)
	if f.IsDir() && f.Name == "." {
		flags |= rsync.XMIT_TOP_DIR
	}
	sameMode := prev != nil && prev.Mode == f.Mode
	sameTime := prev != nil && prev.ModTime == f.ModTime
	sameUid := prev != nil && prev.Uid == f.Uid
	sameGid := prev != nil && prev.Gid == f.Gid
	if sameMode {
		flags |= rsync.XMIT_SAME_MODE
	}
	if sameTime {
		flags |= rsync.XMIT_SAME_TIME
	}
	if opts.PreserveUid && sameUid {
		flags |= rsync.XMIT_SAME_UID
	}
	if opts.PreserveGid && sameGid {
		flags |= rsync.XMIT_SAME_GID
	}

	if flags == 0 {
		// A genuinely all-zero status byte would be read back as
		// end-of-segment; XMIT_LONG_NAME is always set above so this
		// cannot actually happen, but guard against future field
		// changes silently introducing the ambiguity.
		return fmt.Errorf("flist: entry flags collide with end-of-segment sentinel")
	}
	if err := c.WriteByte(flags); err != nil {
		return err
	}

	name := f.WireName()
	if err := c.WriteInt32(int32(len(name))); err != nil {
		return err
	}
	if err := c.WriteString(name); err != nil {
		return err
	}

	if err := rsyncwire.WriteVarlong(c.Writer, f.Size, 3); err != nil {
		return err
	}

	if !sameTime {
		if err := c.WriteInt32(int32(f.ModTime)); err != nil {
			return err
		}
	}
	if !sameMode {
		if err := c.WriteInt32(f.Mode); err != nil {
			return err
		}
	}
	if opts.PreserveUid && !sameUid {
		if err := c.WriteInt32(f.Uid); err != nil {
			return err
		}
	}
	if opts.PreserveGid && !sameGid {
		if err := c.WriteInt32(f.Gid); err != nil {
			return err
		}
	}
	if opts.PreserveLinks && f.IsSymlink() {
		if err := c.WriteInt32(int32(len(f.LinkTarget))); err != nil {
			return err
		}
		if err := c.WriteString(f.LinkTarget); err != nil {
			return err
		}
	}
	return nil
}

// ReadEntry reads one file-list entry, reusing fields from prev per the
// flags on the wire. It returns (nil, nil) on the end-of-segment sentinel
// (a zero status byte).
func ReadEntry(c *rsyncwire.Conn, prev *File, opts Options) (*File, error) {
	flags, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags == 0 {
		return nil, nil
	}

	nameLen, err := c.ReadInt32()
	if err != nil {
		return nil, err
	}
	nameBuf := make([]byte, nameLen)
	if _, err := rsync.ReadFull(c.Reader, nameBuf); err != nil {
		return nil, err
	}

	size, err := rsyncwire.ReadVarlong(c.Reader, 3)
	if err != nil {
		return nil, err
	}

	f := &File{Name: string(nameBuf), Size: size}

	if flags&rsync.XMIT_SAME_TIME != 0 {
		if prev == nil {
			return nil, fmt.Errorf("flist: XMIT_SAME_TIME with no previous entry")
		}
		f.ModTime = prev.ModTime
	} else {
		mtime, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		f.ModTime = int64(mtime)
	}

	if flags&rsync.XMIT_SAME_MODE != 0 {
		if prev == nil {
			return nil, fmt.Errorf("flist: XMIT_SAME_MODE with no previous entry")
		}
		f.Mode = prev.Mode
	} else {
		mode, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		f.Mode = mode
	}
	if f.IsDir() && len(f.Name) > 1 && f.Name[len(f.Name)-1] == '/' {
		f.Name = f.Name[:len(f.Name)-1]
	}

	if opts.PreserveUid {
		if flags&rsync.XMIT_SAME_UID != 0 {
			if prev == nil {
				return nil, fmt.Errorf("flist: XMIT_SAME_UID with no previous entry")
			}
			f.Uid = prev.Uid
		} else {
			uid, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			f.Uid = uid
		}
	}

	if opts.PreserveGid {
		if flags&rsync.XMIT_SAME_GID != 0 {
			if prev == nil {
				return nil, fmt.Errorf("flist: XMIT_SAME_GID with no previous entry")
			}
			f.Gid = prev.Gid
		} else {
			gid, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			f.Gid = gid
		}
	}

	if opts.PreserveLinks && f.IsSymlink() {
		targetLen, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		targetBuf := make([]byte, targetLen)
		if _, err := rsync.ReadFull(c.Reader, targetBuf); err != nil {
			return nil, err
		}
		f.LinkTarget = string(targetBuf)
	}

	return f, nil
}
