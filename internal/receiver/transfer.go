// Package receiver implements the Receiver and Generator roles of a
// transfer: the Generator walks the destination tree deciding which files
// already match the source and producing a block-checksum table for the
// rest, while the Receiver applies the delta stream the Sender produces in
// response, writing files atomically via pendingFile.
package receiver

import (
	"fmt"
	"os"

	"github.com/kalbhor/grsync/internal/flist"
	"github.com/kalbhor/grsync/internal/log"
	"github.com/kalbhor/grsync/internal/rsyncos"
	"github.com/kalbhor/grsync/internal/rsyncwire"
)

// File is the receiver/generator's file-list entry type.
type File = flist.File

// TransferOpts mirrors the subset of *rsyncopts.Options the receiver and
// generator need, kept as a plain struct so this package does not import
// rsyncopts (which in turn depends on far more than a transfer needs).
type TransferOpts struct {
	DryRun  bool
	Server  bool
	Verbose bool

	DeleteMode       bool
	PreserveUid      bool
	PreserveGid      bool
	PreserveLinks    bool
	PreservePerms    bool
	PreserveDevices  bool
	PreserveSpecials bool
	PreserveTimes    bool

	// AlwaysChecksum disables the Generator's size/mtime elision shortcut
	// (--ignore-times): every file gets a block-checksum table regardless of
	// whether its basis already looks unchanged.
	AlwaysChecksum bool

	// DeferWrite holds back the rename of a reconstructed file until its
	// content is known to differ from what's already at the destination
	// (--defer-write), avoiding an mtime bump and a write syscall for a file
	// rsync would have reconstructed byte-for-byte identical anyway.
	DeferWrite bool
}

// Transfer carries the state of one Receiver+Generator session: the
// multiplexed connection to the Sender, the destination tree, and the
// negotiated checksum seed.
type Transfer struct {
	Logger log.Logger
	Opts   *TransferOpts
	Dest   string
	Env    rsyncos.Std
	Conn   *rsyncwire.Conn
	Seed   int32

	// DestRoot confines file opens to the destination tree. OpenDestRoot
	// must be called once before any method that reads or writes files.
	DestRoot *os.Root

	// IOErrors counts I/O failures encountered while receiving files;
	// non-zero suppresses deletion of files the Sender didn't mention, so a
	// transient read error never looks like "file no longer exists".
	IOErrors int32

	// Segments is the live, per-directory segmentation of the file list
	// ReceiveFileList populated. GenerateFiles removes a segment once every
	// file in it has been decided (elided or handed to the Sender), so a
	// stalled transfer's live segment set always reflects what is still
	// outstanding.
	Segments *flist.List

	// redo carries file indices whose whole-file checksum failed once,
	// queued by RecvFiles for the Generator to request a single resend of
	// before the transfer ends.
	redo chan int32
}

// OpenDestRoot opens rt.Dest as a confined root for subsequent file
// operations. Safe to call more than once; later calls are no-ops.
func (rt *Transfer) OpenDestRoot() error {
	if rt.DestRoot != nil {
		return nil
	}
	root, err := os.OpenRoot(rt.Dest)
	if err != nil {
		return err
	}
	rt.DestRoot = root
	return nil
}

// ReceiveFileList reads the incremental file list the Sender transmits
// before the per-file delta stream begins: a sequence of segments, each a
// run of entries terminated by a zero status byte, preceded by a marker
// byte announcing whether a segment follows at all (rsync/flist.c:
// recv_file_list). The segments are kept in rt.Segments for the Generator
// to retire as it finishes with each one, and also flattened into the
// single slice every other consumer still indexes by position.
func (rt *Transfer) ReceiveFileList() ([]*File, error) {
	rt.Segments = flist.NewList()
	opts := flist.Options{
		PreserveUid:   rt.Opts.PreserveUid,
		PreserveGid:   rt.Opts.PreserveGid,
		PreserveLinks: rt.Opts.PreserveLinks,
	}
	var fileList []*File
	for {
		more, err := rt.Conn.ReadByte()
		if err != nil {
			return nil, err
		}
		if more == 0 {
			break
		}
		var seg []*File
		var prev *File
		for {
			f, err := flist.ReadEntry(rt.Conn, prev, opts)
			if err != nil {
				return nil, err
			}
			if f == nil {
				break
			}
			seg = append(seg, f)
			prev = f
		}
		rt.Segments.AddSegment(seg)
		fileList = append(fileList, seg...)
	}
	return fileList, nil
}

func findInFileList(fileList []*File, name string) bool {
	return flist.FindByName(fileList, name)
}
