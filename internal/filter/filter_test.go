package filter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUnanchoredExcludeMatchesAnyDepth(t *testing.T) {
	rs := New()
	rs.AddExclude("*.o")
	if rs.Included("main.o", false) {
		t.Error("expected main.o to be excluded")
	}
	if rs.Included("sub/dir/main.o", false) {
		t.Error("expected sub/dir/main.o to be excluded")
	}
	if !rs.Included("main.c", false) {
		t.Error("expected main.c to be included")
	}
}

func TestAnchoredExcludeOnlyMatchesFromRoot(t *testing.T) {
	rs := New()
	rs.AddExclude("/build")
	if rs.Included("build", true) {
		t.Error("expected top-level build/ to be excluded")
	}
	if !rs.Included("sub/build", true) {
		t.Error("anchored pattern should not match nested build/")
	}
}

func TestDirOnlyPatternIgnoresFiles(t *testing.T) {
	rs := New()
	rs.AddExclude("tmp/")
	if rs.Included("tmp", true) {
		t.Error("expected directory tmp to be excluded")
	}
	if !rs.Included("tmp", false) {
		t.Error("dir-only pattern must not exclude a file named tmp")
	}
}

func TestFirstMatchWins(t *testing.T) {
	rs := New()
	rs.AddInclude("*.go")
	rs.AddExclude("*")
	if !rs.Included("main.go", false) {
		t.Error("expected main.go to be included via the earlier include rule")
	}
	if rs.Included("README.md", false) {
		t.Error("expected README.md to be excluded via the catch-all")
	}
}

func TestDoubleStarCrossesDirectories(t *testing.T) {
	rs := New()
	rs.AddExclude("a/**/z")
	if rs.Included("a/b/z", false) {
		t.Error("expected a/b/z to be excluded")
	}
	if rs.Included("a/b/c/z", false) {
		t.Error("expected a/b/c/z to be excluded")
	}
	if !rs.Included("a/z/b", false) {
		t.Error("a/z/b should not match a/**/z")
	}
}

func TestAddExcludeFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "excludes")
	if err := os.WriteFile(path, []byte("# comment\n*.tmp\n\n*.bak\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rs := New()
	if err := rs.AddExcludeFrom(path); err != nil {
		t.Fatal(err)
	}
	if rs.Included("foo.tmp", false) {
		t.Error("expected foo.tmp to be excluded")
	}
	if rs.Included("foo.bak", false) {
		t.Error("expected foo.bak to be excluded")
	}
	if !rs.Included("foo.go", false) {
		t.Error("expected foo.go to be included")
	}
}

func TestAddRule(t *testing.T) {
	rs := New()
	if err := rs.AddRule("+ keep.txt"); err != nil {
		t.Fatal(err)
	}
	if err := rs.AddRule("- *"); err != nil {
		t.Fatal(err)
	}
	if !rs.Included("keep.txt", false) {
		t.Error("expected keep.txt to be included")
	}
	if rs.Included("drop.txt", false) {
		t.Error("expected drop.txt to be excluded")
	}
	if err := rs.AddRule("nonsense"); err == nil {
		t.Error("expected an error for a malformed rule")
	}
}

func TestEmpty(t *testing.T) {
	rs := New()
	if !rs.Empty() {
		t.Error("fresh rule set should be empty")
	}
	rs.AddExclude("*")
	if rs.Empty() {
		t.Error("rule set with a rule should not be empty")
	}
}
