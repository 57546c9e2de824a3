// Package maincmd implements a subset of the '$ rsync' CLI surface, namely
// that it can:
//   - serve as a daemon over TCP, or over a remote shell's stdin/stdout
//   - act as the "client" CLI for connecting to either kind of server
//   - act as the "server" half of a remote-shell session (--server)
package maincmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/kalbhor/grsync/internal/restrict"
	"github.com/kalbhor/grsync/internal/rsyncdconfig"
	"github.com/kalbhor/grsync/internal/rsyncerr"
	"github.com/kalbhor/grsync/internal/rsyncopts"
	"github.com/kalbhor/grsync/internal/rsyncos"
	"github.com/kalbhor/grsync/internal/rsyncstats"
	"github.com/kalbhor/grsync/rsyncd"

	// For profiling and debugging
	_ "net/http/pprof"
)

func version(osenv *rsyncos.Env) {
	osenv.Logf("grsync, pid %d", os.Getpid())
}

type readWriter struct {
	r io.Reader
	w io.Writer
}

func (r *readWriter) Read(p []byte) (n int, err error)  { return r.r.Read(p) }
func (r *readWriter) Write(p []byte) (n int, err error) { return r.w.Write(p) }

// stdioAddr stands in for a net.Addr on daemon connections that arrive over
// a remote shell's stdin/stdout rather than a real socket. Such connections
// have no IP to check, so module ACLs never apply to them.
type stdioAddr struct{}

func (stdioAddr) Network() string { return "stdio" }
func (stdioAddr) String() string  { return "127.0.0.1:0" }

// Main is the CLI entry point, equivalent to rsync/main.c:main. args is the
// full argument vector; args[0] is the program name and is skipped. cfg, when non-nil, overrides
// the daemon module configuration that would otherwise be loaded from disk
// (used when a listener spawns Main again per accepted connection).
func Main(ctx context.Context, osenv *rsyncos.Env, args []string, cfg *rsyncdconfig.Config) (*rsyncstats.TransferStats, error) {
	if len(args) == 0 {
		return nil, rsyncerr.Usage(fmt.Errorf("no arguments given"))
	}
	pc, err := rsyncopts.ParseArguments(osenv, args[1:])
	if err != nil {
		return nil, rsyncerr.Usage(err)
	}
	opts := pc.Options
	remaining := pc.RemainingArgs

	// calling convention: daemon mode over remote shell (e.g. a built-in SSH
	// listener spawning the server binary with stdin/stdout wired to the
	// session).
	// Example: --server --daemon .
	if opts.Daemon() && opts.Server() {
		if cfg == nil {
			cfg, err = rsyncdconfig.FromDefaultFiles()
			if err != nil {
				return nil, err
			}
		}
		rsyncdOpts := []rsyncd.Option{
			rsyncd.WithStderr(osenv.Stderr),
		}
		if !osenv.Restrict() {
			rsyncdOpts = append(rsyncdOpts, rsyncd.DontRestrict())
		}
		srv, err := rsyncd.NewServer(cfg.Modules, rsyncdOpts...)
		if err != nil {
			return nil, err
		}
		return nil, srv.HandleDaemonConn(ctx, osenv.Std(), &readWriter{r: osenv.Stdin, w: osenv.Stdout}, stdioAddr{})
	}

	// calling convention: command mode (over remote shell or locally)
	// Example: --server --sender -vvvvlogDtpre.iLsfxCIvu . .
	if opts.Server() {
		srv, err := rsyncd.NewServer(nil, rsyncd.WithStderr(osenv.Stderr))
		if err != nil {
			return nil, err
		}

		if len(remaining) < 2 {
			return nil, rsyncerr.Usage(fmt.Errorf("invalid args: at least one directory required"))
		}
		if got, want := remaining[0], "."; got != want {
			return nil, rsyncerr.Protocol(fmt.Errorf("protocol error: got %q, expected %q", got, want))
		}
		paths := remaining[1:]
		if opts.Verbose() {
			osenv.Logf("paths: %q", paths)
		}
		var roDirs, rwDirs []string
		if opts.Sender() {
			roDirs = append(roDirs, paths...)
		} else {
			for _, path := range paths {
				if err := os.MkdirAll(path, 0755); err != nil {
					return nil, err
				}
			}
			rwDirs = append(rwDirs, paths...)
		}
		if osenv.Restrict() {
			if err := restrict.MaybeFileSystem(roDirs, rwDirs); err != nil {
				return nil, err
			}
		}
		conn := srv.NewConnection(osenv.Stdin, osenv.Stdout)
		const negotiate = true
		return nil, srv.HandleConn(nil, conn, paths, opts, negotiate)
	}

	if !opts.Daemon() {
		return clientMain(ctx, osenv, opts, remaining)
	}

	// calling convention: start a daemon in TCP listening mode
	// Example: --daemon
	if cfg == nil {
		cfg, err = rsyncdconfig.FromDefaultFiles()
		if err != nil {
			return nil, err
		}
	}
	if cfg.Listen == "" {
		return nil, rsyncerr.Usage(fmt.Errorf("no listen address configured"))
	}

	osenv.Logf("%d rsync modules configured in total", len(cfg.Modules))
	for _, mod := range cfg.Modules {
		osenv.Logf("rsync module %q with path %s configured (is_readable=%v, is_writable=%v)",
			mod.Name, mod.Path, mod.IsReadable, mod.IsWritable)
	}

	if monitoringListen := os.Getenv("GRSYNC_MONITORING_LISTEN"); monitoringListen != "" {
		go func() {
			osenv.Logf("HTTP server for monitoring listening on http://%s/debug/pprof", monitoringListen)
			if err := http.ListenAndServe(monitoringListen, nil); err != nil {
				osenv.Logf("monitoring listener: %v", err)
			}
		}()
	}

	rsyncdOpts := []rsyncd.Option{
		rsyncd.WithStderr(osenv.Stderr),
	}
	if !osenv.Restrict() {
		rsyncdOpts = append(rsyncdOpts, rsyncd.DontRestrict())
	}
	srv, err := rsyncd.NewServer(cfg.Modules, rsyncdOpts...)
	if err != nil {
		return nil, err
	}

	version(osenv)
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	if err := dropPrivileges(osenv); err != nil {
		return nil, fmt.Errorf("dropping privileges: %v", err)
	}
	osenv.Logf("rsync daemon listening on rsync://%s", ln.Addr())
	return nil, srv.Serve(ctx, ln)
}
