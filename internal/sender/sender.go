// Package sender implements the Sender role: it walks a source tree,
// transmits the incremental file list, and for every file the Generator
// asks about, scans the file against the Generator's block-checksum table
// and emits a token stream of literal runs and whole-block matches
// (rsync/sender.c).
package sender

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/filter"
	"github.com/kalbhor/grsync/internal/flist"
	"github.com/kalbhor/grsync/internal/log"
	"github.com/kalbhor/grsync/internal/rsyncstats"
	"github.com/kalbhor/grsync/internal/rsyncwire"
)

// Options mirrors the subset of *rsyncopts.Options the sender needs.
// Defined as an interface so this package does not import rsyncopts (which
// depends on far more than a transfer needs), matching internal/receiver's
// TransferOpts split.
type Options interface {
	Verbose() bool
	PreserveUid() bool
	PreserveGid() bool
	PreserveLinks() bool
}

// Transfer carries the state of one Sender session.
type Transfer struct {
	Logger log.Logger
	Opts   Options
	Conn   *rsyncwire.Conn
	Seed   int32
}

// RecvFilterList reads the exclusion/inclusion rule list the other end
// transmits before the file list: a sequence of length-prefixed rule
// strings terminated by a zero length (rsync/exclude.c:recv_filter_list).
func RecvFilterList(c *rsyncwire.Conn) (*filter.RuleSet, error) {
	rs := filter.New()
	for {
		n, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		buf := make([]byte, n)
		if _, err := rsync.ReadFull(c.Reader, buf); err != nil {
			return nil, err
		}
		if err := rs.AddRule(string(buf)); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Do walks root, sends the incremental file list restricted to paths and
// exclusionList, and then serves each file-checksum request the Generator
// sends until it signals it is done (index -1).
func (st *Transfer) Do(crd *rsyncwire.CountingReader, cwr *rsyncwire.CountingWriter, root string, paths []string, exclusionList *filter.RuleSet) (*rsyncstats.TransferStats, error) {
	fileList, err := st.sendFileList(root, paths, exclusionList)
	if err != nil {
		return nil, err
	}

	if err := st.serveRequests(root, fileList); err != nil {
		return nil, err
	}

	stats := &rsyncstats.TransferStats{
		Read:    crd.N,
		Written: cwr.N,
		Size:    totalSize(fileList),
	}

	if err := st.Conn.WriteInt64(stats.Read); err != nil {
		return nil, err
	}
	if err := st.Conn.WriteInt64(stats.Written); err != nil {
		return nil, err
	}
	if err := st.Conn.WriteInt64(stats.Size); err != nil {
		return nil, err
	}

	// read final goodbye
	if _, err := st.Conn.ReadInt32(); err != nil {
		return nil, err
	}

	return stats, nil
}

func totalSize(fileList []*flist.File) int64 {
	var total int64
	for _, f := range fileList {
		if f.IsRegular() {
			total += f.Size
		}
	}
	return total
}

// sendFileList walks root, building the sorted incremental file list, and
// transmits each entry (rsync/flist.c:send_file_list).
func (st *Transfer) sendFileList(root string, paths []string, exclusionList *filter.RuleSet) ([]*flist.File, error) {
	var fileList []*flist.File

	for _, p := range paths {
		// Daemon-mode paths are relative to root (e.g. "." or a
		// subdirectory of the module); client-mode paths instead carry
		// just the source directory's basename for wire-naming purposes,
		// with root already pointing at the directory to walk. Prefer the
		// join when it resolves to something real, and fall back to
		// walking root itself otherwise.
		walkRoot := filepath.Join(root, p)
		if _, err := os.Stat(walkRoot); err != nil {
			walkRoot = root
		}
		err := filepath.Walk(walkRoot, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rel == "." && info.IsDir() {
				// The top-level directory itself is represented by a
				// single "." entry, added once below.
				return nil
			}
			name := filepath.ToSlash(rel)
			if exclusionList != nil && !exclusionList.Empty() && !exclusionList.Included(name, info.IsDir()) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			fileList = append(fileList, fileFromInfo(name, path, info))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	top := &flist.File{Name: ".", Mode: rsync.S_IFDIR | 0o755}
	fileList = append([]*flist.File{top}, fileList...)
	sort.Sort(flist.Sorter(fileList))

	opts := flist.Options{
		PreserveUid:   st.Opts.PreserveUid(),
		PreserveGid:   st.Opts.PreserveGid(),
		PreserveLinks: st.Opts.PreserveLinks(),
	}

	list := flist.NewList()
	for _, group := range groupByParent(fileList) {
		list.AddSegment(group)
	}

	for _, seg := range list.Segments() {
		if err := st.Conn.WriteByte(1); err != nil { // a segment follows
			return nil, err
		}
		var prev *flist.File
		for _, f := range seg.Files {
			if err := flist.WriteEntry(st.Conn, prev, f, opts); err != nil {
				return nil, err
			}
			prev = f
		}
		// End of this segment.
		if err := st.Conn.WriteByte(0); err != nil {
			return nil, err
		}
	}
	// No further segments; the whole list has been sent.
	if err := st.Conn.WriteByte(0); err != nil {
		return nil, err
	}

	return fileList, nil
}

// groupByParent partitions a sorted file list into contiguous runs sharing
// the same parent directory, reproducing the per-directory batches that
// incremental recursion discovers one at a time: the root's own children
// first, then each subdirectory's children as the walk reaches them. Since
// fileList is already in total order, a directory's children always form
// one contiguous run.
func groupByParent(fileList []*flist.File) [][]*flist.File {
	var groups [][]*flist.File
	var cur []*flist.File
	var curParent string
	first := true
	for _, f := range fileList {
		parent := path.Dir(strings.TrimSuffix(f.Name, "/"))
		if f.Name == "." {
			parent = ""
		}
		if first || parent != curParent {
			if len(cur) > 0 {
				groups = append(groups, cur)
			}
			cur = nil
			curParent = parent
			first = false
		}
		cur = append(cur, f)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func fileFromInfo(name, path string, info fs.FileInfo) *flist.File {
	f := &flist.File{
		Path:    path,
		Name:    name,
		Mode:    int32(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
	}
	switch {
	case info.IsDir():
		f.Mode |= rsync.S_IFDIR
	case info.Mode()&fs.ModeSymlink != 0:
		f.Mode |= rsync.S_IFLNK
		if target, err := os.Readlink(path); err == nil {
			f.LinkTarget = target
		}
	default:
		f.Mode |= rsync.S_IFREG
	}
	return f
}

// serveRequests reads file indices the Generator sends (each followed by a
// block-checksum table), and for each one scans the source file and emits
// the corresponding delta token stream. The first phase's indices arrive
// delta-coded (internal/rsyncwire.IndexCodec, biased +1 by the Generator so
// that the codec's own 0 end-of-list marker never collides with file index
// 0); any resend requests a checksum mismatch provoked arrive afterwards as
// plain indices, since a resent index repeats a value already seen in phase
// one and so cannot be encoded as a running diff.
func (st *Transfer) serveRequests(root string, fileList []*flist.File) error {
	ic := rsyncwire.NewIndexCodec()
	for {
		biased, err := ic.ReadIndex(st.Conn.Reader)
		if err != nil {
			return err
		}
		if biased == 0 {
			break
		}
		if err := st.handleRequest(root, fileList, biased-1); err != nil {
			return err
		}
	}
	for {
		idx, err := st.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx < 0 {
			return nil
		}
		if err := st.handleRequest(root, fileList, idx); err != nil {
			return err
		}
	}
}

func (st *Transfer) handleRequest(root string, fileList []*flist.File, idx int32) error {
	if int(idx) >= len(fileList) {
		return fmt.Errorf("sender: index %d out of range (file list has %d entries)", idx, len(fileList))
	}

	var sh rsync.SumHead
	if err := sh.ReadFrom(st.Conn); err != nil {
		return err
	}
	sums := make([]blockChecksum, sh.ChecksumCount)
	for i := range sums {
		weak, err := st.Conn.ReadInt32()
		if err != nil {
			return err
		}
		strong := make([]byte, sh.ChecksumLength)
		if _, err := rsync.ReadFull(st.Conn.Reader, strong); err != nil {
			return err
		}
		sums[i] = blockChecksum{weak: uint32(weak), strong: strong}
	}

	f := fileList[idx]
	return st.sendFile(filepath.Join(root, f.Name), sh, sums)
}
