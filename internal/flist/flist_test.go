package flist

import (
	"sort"
	"testing"

	"github.com/kalbhor/grsync"
)

func dirFile(name string) *File {
	return &File{Name: name, Mode: rsync.S_IFDIR}
}

func regFile(name string) *File {
	return &File{Name: name, Mode: rsync.S_IFREG}
}

func TestDotDirectorySortsFirst(t *testing.T) {
	files := []*File{regFile("a"), dirFile("."), regFile("b")}
	sort.Sort(Sorter(files))
	if files[0].Name != "." {
		t.Fatalf("first entry = %q, want \".\"", files[0].Name)
	}
}

func TestFilesBeforeDirsAtSameLevel(t *testing.T) {
	// "sub" (a file) must sort before "sub" (a directory) with children,
	// matching rsync's rule that files sort before same-named directories.
	file := regFile("sub")
	dir := dirFile("sub")
	child := regFile("sub/nested")

	files := []*File{child, dir, file}
	sort.Sort(Sorter(files))

	names := []string{files[0].Name, files[1].Name, files[2].Name}
	want := []string{"sub", "sub", "sub/nested"}
	// file and dir share the name "sub"; the file copy must come first.
	if names[0] != want[0] || files[0].IsDir() {
		t.Fatalf("expected the regular file named %q first, got %+v", want[0], files[0])
	}
	if !files[1].IsDir() {
		t.Fatalf("expected the directory named %q second, got %+v", want[1], files[1])
	}
	if names[2] != want[2] {
		t.Fatalf("expected %q last, got %+v", want[2], files[2])
	}
}

func TestProperPrefixSortsFirst(t *testing.T) {
	a := regFile("foo")
	b := regFile("foobar")
	if !Less(a, b) {
		t.Fatalf("expected %q < %q", a.Name, b.Name)
	}
}

func TestListSegments(t *testing.T) {
	l := NewList()
	seg1 := l.AddSegment([]*File{dirFile("."), regFile("a"), dirFile("b")})
	seg2 := l.AddSegment([]*File{regFile("b/c")})

	if seg1.StartIndex != 0 || seg2.StartIndex != 3 {
		t.Fatalf("unexpected segment indices: %d, %d", seg1.StartIndex, seg2.StartIndex)
	}
	if got := l.At(3); got == nil || got.Name != "b/c" {
		t.Fatalf("At(3) = %+v, want b/c", got)
	}
	if l.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", l.Len())
	}

	l.RemoveSegment(seg1)
	if l.Len() != 1 {
		t.Fatalf("Len() after removing seg1 = %d, want 1", l.Len())
	}
	if got := l.At(0); got != nil {
		t.Fatalf("At(0) after removing seg1 = %+v, want nil", got)
	}
}

func TestFindByName(t *testing.T) {
	files := []*File{regFile("a"), regFile("b")}
	if !FindByName(files, "a") {
		t.Error("expected to find \"a\"")
	}
	if FindByName(files, "c") {
		t.Error("did not expect to find \"c\"")
	}
}
