package receiver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalbhor/grsync/internal/log"
)

func TestSetPermsAppliesModeAndMTime(t *testing.T) {
	dir := t.TempDir()
	name := "file.txt"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	rt := &Transfer{
		Logger: log.New(os.Stderr),
		Dest:   dir,
		Opts: &TransferOpts{
			PreservePerms: true,
			PreserveTimes: true,
		},
	}

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &File{
		Name:    name,
		Mode:    0100640, // S_IFREG | 0640
		ModTime: mtime.Unix(),
	}

	if err := rt.setPerms(f); err != nil {
		t.Fatal(err)
	}

	st, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := st.Mode().Perm(), os.FileMode(0640); got != want {
		t.Errorf("mode = %v, want %v", got, want)
	}
	if got, want := st.ModTime().Unix(), mtime.Unix(); got != want {
		t.Errorf("mtime = %v, want %v", got, want)
	}
}

func TestSetPermsSkipsWhenNotRequested(t *testing.T) {
	dir := t.TempDir()
	name := "file.txt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0600); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	rt := &Transfer{
		Logger: log.New(os.Stderr),
		Dest:   dir,
		Opts:   &TransferOpts{},
	}
	f := &File{Name: name, Mode: 0100777, ModTime: 0}
	if err := rt.setPerms(f); err != nil {
		t.Fatal(err)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if after.Mode().Perm() != before.Mode().Perm() {
		t.Errorf("mode changed to %v despite PreservePerms=false", after.Mode().Perm())
	}
}
