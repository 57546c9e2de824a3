// Package rsynctest provides test helpers for spinning up an in-process
// rsync daemon and generating/verifying fixture files, used by the
// integration tests that exercise maincmd/rsyncd/rsyncclient together
// against real files on disk.
package rsynctest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/kalbhor/grsync/rsyncd"
)

// Server is a running in-process rsync daemon, listening on loopback.
type Server struct {
	Port string
}

type config struct {
	modules []rsyncd.Module
}

// Option configures the daemon started by New.
type Option func(*config)

// InteropModule exposes path read-only under the module name "interop".
func InteropModule(path string) Option {
	return func(c *config) {
		c.modules = append(c.modules, rsyncd.Module{
			Name:       "interop",
			Path:       path,
			IsReadable: true,
		})
	}
}

// New starts an rsync daemon on loopback for the duration of the test.
func New(t *testing.T, opts ...Option) *Server {
	t.Helper()

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := rsyncd.NewServer(cfg.modules, rsyncd.DontRestrict())
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})

	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return &Server{Port: port}
}

const (
	devBlock = 0x1001
	devChar  = 0x1002
)

// CreateDummyDeviceFiles creates a handful of character/block device nodes
// under dir, for exercising PreserveDevices/PreserveSpecials.
func CreateDummyDeviceFiles(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	nodes := []struct {
		name string
		mode uint32
		dev  int
	}{
		{"null", syscall.S_IFCHR, devChar},
		{"zero", syscall.S_IFCHR, devChar},
		{"loop0", syscall.S_IFBLK, devBlock},
		{"fifo", syscall.S_IFIFO, 0},
	}
	for _, n := range nodes {
		path := filepath.Join(dir, n.name)
		if n.mode == syscall.S_IFIFO {
			if err := syscall.Mkfifo(path, 0644); err != nil {
				t.Fatalf("mkfifo %s: %v", path, err)
			}
			continue
		}
		if err := syscall.Mknod(path, n.mode|0644, n.dev); err != nil {
			if err == syscall.EPERM {
				t.Skipf("mknod %s: %v (need root)", path, err)
			}
			t.Fatalf("mknod %s: %v", path, err)
		}
	}
}

// VerifyDummyDeviceFiles checks that destDir contains device nodes matching
// those CreateDummyDeviceFiles wrote under origDir, by name and file type.
func VerifyDummyDeviceFiles(t *testing.T, origDir, destDir string) {
	t.Helper()
	entries, err := os.ReadDir(origDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		origInfo, err := os.Lstat(filepath.Join(origDir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		destInfo, err := os.Lstat(filepath.Join(destDir, e.Name()))
		if err != nil {
			t.Fatalf("device file %s missing in destination: %v", e.Name(), err)
		}
		if got, want := destInfo.Mode().Type(), origInfo.Mode().Type(); got != want {
			t.Errorf("device file %s: type = %v, want %v", e.Name(), got, want)
		}
		origSys, ok1 := origInfo.Sys().(*syscall.Stat_t)
		destSys, ok2 := destInfo.Sys().(*syscall.Stat_t)
		if ok1 && ok2 && origSys.Rdev != destSys.Rdev {
			t.Errorf("device file %s: rdev = %d, want %d", e.Name(), destSys.Rdev, origSys.Rdev)
		}
	}
}

// largeDataFileSize is chosen to exceed the block checksum window several
// times over, so incremental syncs actually exercise delta transfer.
const largeDataFileSize = 3 * 1024 * 1024

const patternUnit = 1024

// WriteLargeDataFile (re-)writes dir/large-data-file: patternUnit bytes of
// head, a body pattern filling the middle, and patternUnit bytes of end.
func WriteLargeDataFile(t *testing.T, dir string, head, body, end []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "large-data-file")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := writeRepeated(f, head, patternUnit); err != nil {
		t.Fatal(err)
	}
	middle := largeDataFileSize - 2*patternUnit
	if err := writeRepeated(f, body, middle); err != nil {
		t.Fatal(err)
	}
	if err := writeRepeated(f, end, patternUnit); err != nil {
		t.Fatal(err)
	}
}

func writeRepeated(f *os.File, pattern []byte, n int) error {
	if len(pattern) == 0 {
		return fmt.Errorf("empty pattern")
	}
	buf := make([]byte, 0, n)
	for len(buf) < n {
		buf = append(buf, pattern...)
	}
	_, err := f.Write(buf[:n])
	return err
}

// DataFileMatches verifies path was written by WriteLargeDataFile with the
// given head/body/end patterns.
func DataFileMatches(path string, head, body, end []byte) error {
	got, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(got) != largeDataFileSize {
		return fmt.Errorf("unexpected size: got %d, want %d", len(got), largeDataFileSize)
	}
	if err := matchesRepeated(got[:patternUnit], head); err != nil {
		return fmt.Errorf("head: %v", err)
	}
	if err := matchesRepeated(got[len(got)-patternUnit:], end); err != nil {
		return fmt.Errorf("end: %v", err)
	}
	if err := matchesRepeated(got[patternUnit:len(got)-patternUnit], body); err != nil {
		return fmt.Errorf("body: %v", err)
	}
	return nil
}

func matchesRepeated(got, pattern []byte) error {
	for i, b := range got {
		if want := pattern[i%len(pattern)]; b != want {
			return fmt.Errorf("byte %d: got %#x, want %#x", i, b, want)
		}
	}
	return nil
}
