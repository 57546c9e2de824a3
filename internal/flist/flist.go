// Package flist implements the file list: the ordered collection of
// FileInfo entries exchanged between Sender and Receiver, the rsync-
// compatible total order on path-name byte strings, and the segmented,
// incrementally-extended structure that incremental recursion builds up as
// a tree walk descends into subdirectories.
package flist

import (
	"sync"

	"github.com/kalbhor/grsync"
)

// File is the immutable description of one tree entry (the protocol's
// FileInfo). Path is only ever set on the sending side; the receiving side
// only ever sees Name, the wire path-name. Mode, Size, ModTime, Uid and Gid
// mirror RsyncFileAttributes. IsPruned and IsTransferred are the two flags
// the spec allows to mutate after construction.
type File struct {
	Path string // local filesystem path, sender-side only; empty on receiver.
	Name string // normalized relative path as transmitted on the wire.

	Mode    int32
	Size    int64
	ModTime int64 // whole seconds, matching RsyncFileAttributes.
	Uid     int32
	Gid     int32
	User    string
	Group   string

	LinkTarget string // symlink target, when Mode&S_IFMT == S_IFLNK.

	IsPruned      bool
	IsTransferred bool
}

// FileMode returns the POSIX type bits of Mode, one of rsync.S_IFDIR,
// S_IFREG, S_IFLNK, S_IFBLK, S_IFCHR, S_IFIFO.
func (f *File) FileMode() int32 { return f.Mode & rsync.S_IFMT }

func (f *File) IsDir() bool     { return f.FileMode() == rsync.S_IFDIR }
func (f *File) IsRegular() bool { return f.FileMode() == rsync.S_IFREG }
func (f *File) IsSymlink() bool { return f.FileMode() == rsync.S_IFLNK }

// WireName returns the byte-string name as placed on the wire: directories
// carry a trailing '/', regular files never do.
func (f *File) WireName() string {
	if f.IsDir() && (f.Name == "" || f.Name[len(f.Name)-1] != '/') {
		return f.Name + "/"
	}
	return f.Name
}

// SettableEqual reports whether two attribute sets are equal for the
// purposes of the Generator's skip decision: their mtimes agree. Size is
// compared separately by callers (an elided file must also match in size).
func SettableEqual(a, b *File) bool {
	return a.ModTime == b.ModTime
}

// Less implements the file-list total order: the dot directory sorts first;
// otherwise names are compared byte by byte, with a directory's missing
// terminator treated as an implicit '/' so that a file sorts before a
// same-named directory, and a proper prefix sorts before the longer name.
func Less(a, b *File) bool {
	if a.Name == b.Name && a.IsDir() == b.IsDir() {
		return false
	}
	if a.Name == "." {
		return true
	}
	if b.Name == "." {
		return false
	}
	return compareNames(a, b) < 0
}

func compareNames(a, b *File) int {
	na, nb := a.Name, b.Name
	for i := 0; ; i++ {
		ca := nameByteAt(na, i, a.IsDir())
		cb := nameByteAt(nb, i, b.IsDir())
		if ca != cb {
			return int(ca) - int(cb)
		}
		if ca == 0 {
			return 0
		}
	}
}

// nameByteAt returns the byte of name at position i, or the implicit
// trailing '/' for a directory whose name has been exhausted, or 0 (the
// logical string terminator) once a non-directory name has been exhausted.
func nameByteAt(name string, i int, isDir bool) byte {
	if i < len(name) {
		return name[i]
	}
	if isDir {
		return '/'
	}
	return 0
}

// Sorter adapts a []*File to sort.Interface using Less.
type Sorter []*File

func (s Sorter) Len() int           { return len(s) }
func (s Sorter) Less(i, j int) bool { return Less(s[i], s[j]) }
func (s Sorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Segment is a contiguous range of file indices produced by one step of
// incremental recursion: the immediate children of one directory, in total
// order. StartIndex is the index of Files[0]; Files[i] has index
// StartIndex+i.
type Segment struct {
	StartIndex int
	Files      []*File
}

// End returns the index one past the last file in the segment.
func (s *Segment) End() int { return s.StartIndex + len(s.Files) }

// List is the thread-safe, append-only sequence of segments that the
// Sender produces and the Generator/Receiver side consumes. Indices are
// assigned monotonically across segments as they are appended; a segment
// is only ever removed once the Generator confirms it is fully processed
// (every file in it has been transferred or elided).
type List struct {
	mu       sync.Mutex
	segments []*Segment
	next     int
}

// NewList returns an empty file list.
func NewList() *List {
	return &List{}
}

// AddSegment appends files as a new segment, assigning them contiguous
// indices continuing from the previous segment, and returns the segment.
func (l *List) AddSegment(files []*File) *Segment {
	l.mu.Lock()
	defer l.mu.Unlock()
	seg := &Segment{StartIndex: l.next, Files: files}
	l.next += len(files)
	l.segments = append(l.segments, seg)
	return seg
}

// RemoveSegment drops a segment once the Generator has confirmed every
// file in it is fully handled. It is a no-op if the segment is not present
// (already removed).
func (l *List) RemoveSegment(seg *Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.segments {
		if s == seg {
			l.segments = append(l.segments[:i], l.segments[i+1:]...)
			return
		}
	}
}

// At returns the file with the given global index, or nil if no live
// segment covers it (e.g. it was pruned and its segment removed).
func (l *List) At(idx int) *File {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.segments {
		if idx >= s.StartIndex && idx < s.End() {
			return s.Files[idx-s.StartIndex]
		}
	}
	return nil
}

// Segments returns a snapshot of the currently live segments.
func (l *List) Segments() []*Segment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

// Len returns the total number of files across all live segments.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.segments {
		n += len(s.Files)
	}
	return n
}

// FindByName returns whether name appears anywhere in fileList, used by the
// Receiver's --delete pass to decide whether a local path still has a
// matching remote entry.
func FindByName(fileList []*File, name string) bool {
	// The list is kept in sorted order, so this could binary search, but
	// callers invoke it from an O(n) directory walk already; a linear
	// scan keeps this package independent of that assumption.
	for _, f := range fileList {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Prune marks a directory entry pruned: the Generator could not stat it
// locally, so any segment describing its descendants must be ignored.
func Prune(f *File) {
	f.IsPruned = true
}
