package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/rsyncchecksum"
	"github.com/kalbhor/grsync/internal/rsyncwire"
)

// rsync/receiver.c:recv_files
//
// A whole-file checksum mismatch is queued on rt.redo for one resend rather
// than counted immediately: the protocol permits a single retry before a
// corrupted transfer is treated as a permanent per-file failure. Phase one's
// indices arrive delta-coded and biased +1 (internal/rsyncwire.IndexCodec,
// matching GenerateFiles); its end-of-list byte starts phase two, whose
// resend indices arrive as plain, unbiased int32s terminated by -1.
func (rt *Transfer) RecvFiles(fileList []*File) error {
	retried := make(map[int32]bool)

	handle := func(idx int32) error {
		if rt.Opts.Verbose { // TODO: DebugGTE(RECV, 1)
			rt.Logger.Printf("receiving file idx=%d: %+v", idx, fileList[idx])
		}
		if err := rt.recvFile1(fileList[idx]); err != nil {
			var cme *checksumMismatchError
			if errors.As(err, &cme) && !retried[idx] && rt.redo != nil {
				retried[idx] = true
				rt.Logger.Printf("%s: checksum mismatch, requesting resend", cme.name)
				rt.redo <- idx
				return nil
			}
			var pfe *perFileError
			if errors.As(err, &pfe) {
				rt.Logger.Printf("receiving %s failed, continuing: %v", pfe.name, pfe.err)
				rt.IOErrors++
				return nil
			}
			return err
		}
		return nil
	}

	ic := rsyncwire.NewIndexCodec()
	for {
		biased, err := ic.ReadIndex(rt.Conn.Reader)
		if err != nil {
			return err
		}
		if biased == 0 {
			break
		}
		if err := handle(biased - 1); err != nil {
			return err
		}
	}
	if rt.Opts.Verbose { // TODO: DebugGTE(RECV, 1)
		rt.Logger.Printf("recvFiles phase=1")
	}
	if rt.redo != nil {
		close(rt.redo)
	}

	for {
		idx, err := rt.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			break
		}
		if err := handle(idx); err != nil {
			return err
		}
	}

	if rt.Opts.Verbose { // TODO: DebugGTE(RECV, 1)
		rt.Logger.Printf("recvFiles finished")
	}
	return nil
}

func (rt *Transfer) recvFile1(f *File) error {
	if rt.Opts.DryRun {
		if !rt.Opts.Server {
			fmt.Fprintln(rt.Env.Stdout, f.Name)
		}
		return nil
	}

	localFile, err := rt.openLocalFile(f)
	if err != nil && !os.IsNotExist(err) {
		rt.Logger.Printf("opening local file failed, continuing: %v", err)
	}
	defer localFile.Close()
	if err := rt.receiveData(f, localFile); err != nil {
		return err
	}
	return nil
}

func (rt *Transfer) openLocalFile(f *File) (*os.File, error) {
	in, err := rt.DestRoot.Open(f.Name)
	if err != nil {
		return nil, err
	}

	st, err := in.Stat()
	if err != nil {
		return nil, err
	}

	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Join(rt.Dest, f.Name))
	}

	if !st.Mode().IsRegular() {
		return nil, nil
	}

	if !rt.Opts.PreservePerms {
		// If the file exists already and we are not preserving permissions,
		// then act as though the remote sent us the existing permissions:
		f.Mode = int32(st.Mode().Perm())
	}

	return in, nil
}

// rsync/receiver.c:receive_data
//
// A local failure (destination unwritable, basis file unreadable, checksum
// mismatch) never aborts the read early: the token stream and the trailing
// checksum are always drained in full so the connection stays framed
// correctly for the next file. Such failures are reported as a
// *perFileError once the stream has been drained; only a read/write
// failure on the connection itself returns unwrapped, since that leaves
// the multiplexed stream in an unknown state.
func (rt *Transfer) receiveData(f *File, localFile *os.File) error {
	var sh rsync.SumHead
	if err := sh.ReadFrom(rt.Conn); err != nil {
		return err
	}

	local := filepath.Join(rt.Dest, f.Name)
	rt.Logger.Printf("creating %s", local)
	out, createErr := newPendingFile(local, os.FileMode(f.FileMode()&0o777|0o600))
	fileErr := createErr
	if createErr == nil {
		defer out.Cleanup()
	}

	h := rsyncchecksum.NewStrongHash(rt.Seed)

	var deferred *bytes.Buffer
	if rt.Opts.DeferWrite {
		deferred = &bytes.Buffer{}
	}

	var wr io.Writer = h
	if createErr == nil {
		writers := []io.Writer{out, h}
		if deferred != nil {
			writers = append(writers, deferred)
		}
		wr = io.MultiWriter(writers...)
	}

	for {
		token, data, err := rt.recvToken()
		if err != nil {
			return err
		}
		if token == 0 {
			break
		}
		if token > 0 {
			if _, err := wr.Write(data); err != nil && fileErr == nil {
				fileErr = err
			}
			continue
		}
		token = -(token + 1)
		offset2 := int64(token) * int64(sh.BlockLength)
		dataLen := sh.BlockLength
		if token == sh.ChecksumCount-1 && sh.RemainderLength != 0 {
			dataLen = sh.RemainderLength
		}
		if localFile == nil {
			if fileErr == nil {
				fileErr = fmt.Errorf("basis file for %s not open for copying chunk", local)
			}
			continue
		}
		chunk := make([]byte, dataLen)
		if _, err := localFile.ReadAt(chunk, offset2); err != nil {
			if fileErr == nil {
				fileErr = err
			}
			continue
		}
		if _, err := wr.Write(chunk); err != nil && fileErr == nil {
			fileErr = err
		}
	}
	localSum := h.Sum(nil)
	remoteSum := make([]byte, len(localSum))
	if _, err := io.ReadFull(rt.Conn.Reader, remoteSum); err != nil {
		return err
	}
	if fileErr != nil {
		return &perFileError{name: f.Name, err: fileErr}
	}
	if !bytes.Equal(localSum, remoteSum) {
		return &checksumMismatchError{&perFileError{name: f.Name, err: fmt.Errorf("file corruption")}}
	}
	rt.Logger.Printf("checksum %x matches!", localSum)

	if deferred != nil && localFile != nil {
		identical, err := matchesExisting(localFile, deferred.Bytes())
		if err != nil {
			return &perFileError{name: f.Name, err: err}
		}
		if identical {
			rt.Logger.Printf("%s unchanged, deferring write", local)
			out.Cleanup()
			if err := rt.setPerms(f); err != nil {
				return &perFileError{name: f.Name, err: err}
			}
			return nil
		}
	}

	if err := out.CloseAtomicallyReplace(); err != nil {
		return &perFileError{name: f.Name, err: err}
	}

	if err := rt.setPerms(f); err != nil {
		return &perFileError{name: f.Name, err: err}
	}

	return nil
}
