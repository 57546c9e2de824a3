package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/log"
	"github.com/kalbhor/grsync/internal/receiver"
	"github.com/kalbhor/grsync/internal/rsyncauth"
	"github.com/kalbhor/grsync/internal/rsyncerr"
	"github.com/kalbhor/grsync/internal/rsyncopts"
	"github.com/kalbhor/grsync/internal/rsyncos"
	"github.com/kalbhor/grsync/internal/rsyncstats"
	"github.com/kalbhor/grsync/internal/rsyncwire"
	"github.com/kalbhor/grsync/internal/sender"
)

// defaultDaemonPort is the registered TCP port of the rsync daemon protocol.
const defaultDaemonPort = 873

// checkForHostspec parses one endpoint of an rsync invocation against the
// client URL grammar (local-path, [user@]host::module[/path],
// rsync://[user@]host[:port]/module[/path]). err is non-nil when s has no
// host component (a local path) and when an rsync:// URL is malformed.
func checkForHostspec(s string) (user, host, path string, port int, err error) {
	splitUser := func(hostspec string) (string, string) {
		if idx := strings.IndexByte(hostspec, '@'); idx > -1 {
			return hostspec[:idx], hostspec[idx+1:]
		}
		return "", hostspec
	}

	if strings.HasPrefix(s, "rsync://") {
		rest := strings.TrimPrefix(s, "rsync://")
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			return "", "", "", 0, fmt.Errorf("malformed rsync:// url %q: missing module", s)
		}
		hostport, path := rest[:idx], rest[idx+1:]
		user, hostport = splitUser(hostport)
		host = hostport
		port = defaultDaemonPort
		if i := strings.LastIndexByte(hostport, ':'); i > -1 {
			host = hostport[:i]
			p, perr := strconv.Atoi(hostport[i+1:])
			if perr != nil {
				return "", "", "", 0, fmt.Errorf("malformed rsync:// url %q: bad port: %v", s, perr)
			}
			port = p
		}
		return user, host, path, port, nil
	}

	if idx := strings.Index(s, "::"); idx > -1 {
		hostspec, path := s[:idx], s[idx+2:]
		user, host = splitUser(hostspec)
		return user, host, path, defaultDaemonPort, nil
	}

	if idx := strings.IndexByte(s, ':'); idx > -1 {
		hostspec, path := s[:idx], s[idx+1:]
		user, host = splitUser(hostspec)
		return user, host, path, 0, nil
	}

	return "", "", "", 0, fmt.Errorf("no hostspec found in %q", s)
}

// rsync/main.c:start_client
func rsyncMain(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, sources []string, dest string) (*rsyncstats.TransferStats, error) {
	if opts.Verbose() {
		log.Printf("dest: %q, sources: %q", dest, sources)
		log.Printf("opts: %+v", opts)
	}
	// Guaranteed to be non-empty by caller of rsyncMain().
	src := sources[0]

	daemonConnection := 0 // no daemon
	user, host, path, port, err := checkForHostspec(src)
	if opts.Verbose() {
		log.Printf("user=%q, host=%q, path=%q, port=%d, err=%v", user, host, path, port, err)
	}
	if err != nil {
		// source is local, check dest arg
		opts.SetSender()
		user, host, path, port, err = checkForHostspec(dest)
		if opts.Verbose() {
			log.Printf("user=%q, host=%q, path=%q, port=%d, err=%v", user, host, path, port, err)
		}
		if path == "" {
			if opts.Verbose() {
				log.Printf("source and dest are both local!")
			}
			host = ""
			port = 0
			path = dest
			opts.SetLocalServer()
		} else if port != 0 {
			if opts.ShellCommand() != "" {
				daemonConnection = 1 // daemon via remote shell
			} else {
				daemonConnection = -1 // daemon via socket
			}
		}
	} else if port != 0 {
		if opts.ShellCommand() != "" {
			daemonConnection = 1 // daemon via remote shell
		} else {
			daemonConnection = -1 // daemon via socket
		}
	}

	other := dest
	if opts.Sender() {
		other = src
	}

	module := path
	if idx := strings.IndexByte(module, '/'); idx > -1 {
		module = module[:idx]
	}
	if opts.Verbose() {
		log.Printf("module=%q, path=%q, other=%q", module, path, other)
	}

	if daemonConnection < 0 {
		return socketClient(ctx, osenv, opts, user, host, path, port, other)
	}

	rc, wc, err := doCmd(osenv, opts, host, user, path, daemonConnection)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	defer wc.Close()
	conn := &readWriter{
		r: rc,
		w: wc,
	}
	negotiate := true
	if daemonConnection != 0 {
		done, err := startInbandExchange(osenv, opts, conn, user, module, path)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
		negotiate = false // already done
	}
	return clientRun(osenv, opts, conn, []string{other}, negotiate)
}

// socketClient dials a TCP rsync daemon directly (the "rsync://" / bare
// "::" calling convention, i.e. no remote shell involved).
func socketClient(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, user, host, path string, port int, other string) (*rsyncstats.TransferStats, error) {
	if port == 0 {
		port = defaultDaemonPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to rsync daemon at %s: %w", addr, err)
	}
	defer conn.Close()

	module := path
	if idx := strings.IndexByte(path, '/'); idx > -1 {
		module = path[:idx]
	}

	done, err := startInbandExchange(osenv, opts, conn, user, module, path)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}
	return clientRun(osenv, opts, conn, []string{other}, false)
}

// startInbandExchange implements the client side of the daemon greeting,
// module selection, optional MD5 challenge/response authentication, and
// option exchange, over conn (a raw TCP socket or a remote-shell-spawned
// rsync --server --daemon). done is true when the server only wanted to
// exchange a module listing and no transfer follows.
func startInbandExchange(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, user, module, path string) (done bool, err error) {
	rd := bufio.NewReader(conn)

	fmt.Fprintf(conn, "@RSYNCD: %d\n", rsync.ProtocolVersion)
	greeting, err := rd.ReadString('\n')
	if err != nil {
		return false, err
	}
	if !strings.HasPrefix(greeting, "@RSYNCD: ") {
		return false, rsyncerr.Protocol(fmt.Errorf("invalid server greeting: got %q", greeting))
	}

	fmt.Fprintf(conn, "%s\n", module)

	if module == "" {
		// Module listing request: print every line until @RSYNCD: EXIT.
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return false, err
			}
			if strings.HasPrefix(line, "@RSYNCD: EXIT") {
				return true, nil
			}
			io.WriteString(osenv.Stdout, line)
		}
	}

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return false, err
		}
		line = strings.TrimRight(line, "\n")
		if line == "@RSYNCD: OK" {
			break
		}
		if challenge, ok := strings.CutPrefix(line, "@RSYNCD: AUTHREQD "); ok {
			password, perr := daemonPassword(opts)
			if perr != nil {
				return false, rsyncerr.SessionSetup(perr)
			}
			fmt.Fprintf(conn, "%s %s\n", user, rsyncauth.Response(password, challenge))
			continue
		}
		if strings.HasPrefix(line, "@ERROR") {
			return false, rsyncerr.SessionSetup(fmt.Errorf("daemon refused module %q: %s", module, line))
		}
		// Tolerate banner/MOTD lines preceding the OK.
	}

	flags := serverOptions(opts)
	flags = append(flags, ".", path)
	for _, flag := range flags {
		fmt.Fprintf(conn, "%s\n", flag)
	}
	fmt.Fprint(conn, "\n")

	return false, nil
}

// daemonPassword resolves the password used for module authentication: the
// contents of --password-file if given, otherwise $RSYNC_PASSWORD.
func daemonPassword(opts *rsyncopts.Options) (string, error) {
	if pf := opts.PasswordFile(); pf != "" {
		data, err := os.ReadFile(pf)
		if err != nil {
			return "", fmt.Errorf("reading password file: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	return os.Getenv("RSYNC_PASSWORD"), nil
}

// serverOptions reconstructs the flag list to pass to a remote --server
// process, covering exactly the CLI surface rsyncopts.ParseArguments parses.
func serverOptions(opts *rsyncopts.Options) []string {
	var args []string

	var short strings.Builder
	short.WriteByte('-')
	if opts.Recurse() {
		short.WriteByte('r')
	}
	if opts.PreserveLinks() {
		short.WriteByte('l')
	}
	if opts.PreservePerms() {
		short.WriteByte('p')
	}
	if opts.PreserveMTimes() {
		short.WriteByte('t')
	}
	if opts.PreserveGid() {
		short.WriteByte('g')
	}
	if opts.PreserveUid() {
		short.WriteByte('o')
	}
	if opts.PreserveDevices() || opts.PreserveSpecials() {
		short.WriteByte('D')
	}
	for i := 0; i < opts.VerboseLevel(); i++ {
		short.WriteByte('v')
	}
	if short.Len() > 1 {
		args = append(args, short.String())
	}

	if opts.XferDirs() && !opts.Recurse() {
		args = append(args, "--dirs")
	}
	if opts.AlwaysChecksum() {
		args = append(args, "--ignore-times")
	}
	if opts.DeleteMode() {
		args = append(args, "--delete")
	}
	if opts.NumericIds() {
		args = append(args, "--numeric-ids")
	}
	if opts.DeferWrite() {
		args = append(args, "--defer-write")
	}
	if opts.DryRun() {
		args = append(args, "--dry-run")
	}
	return args
}

// rsync/main.c:do_cmd
func doCmd(osenv rsyncos.Std, opts *rsyncopts.Options, machine, user, path string, daemonConnection int) (io.ReadCloser, io.WriteCloser, error) {
	if opts.Verbose() {
		log.Printf("doCmd(machine=%q, user=%q, path=%q, daemonConnection=%d)",
			machine, user, path, daemonConnection)
	}
	var args []string
	if !opts.LocalServer() {
		cmd := opts.ShellCommand()
		if cmd == "" {
			cmd = "ssh"
			if e := os.Getenv("RSYNC_RSH"); e != "" {
				cmd = e
			}
		}

		// We use shlex.Split(), whereas rsync implements its own shell-style-like
		// parsing. The nuances likely don’t matter to any users, and if so, users
		// might prefer shell-style parsing.
		var err error
		args, err = shlex.Split(cmd)
		if err != nil {
			return nil, nil, err
		}

		if user != "" && daemonConnection == 0 {
			args = append(args, "-l", user)
		}

		args = append(args, machine)

		args = append(args, "rsync")
	} else {
		// NOTE: tridge rsync will fork and run child_main(), but we create a
		// new process because that is much simpler/cleaner in Go.
		args = append(args, os.Args[0])
	}

	if daemonConnection > 0 {
		args = append(args, "--server", "--daemon")
	} else {
		args = append(args, serverOptions(opts)...)
	}
	args = append(args, ".")

	if daemonConnection == 0 {
		args = append(args, path)
	}

	if opts.Verbose() {
		log.Printf("args: %q", args)
	}

	ssh := exec.Command(args[0], args[1:]...)
	wc, err := ssh.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	rc, err := ssh.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	ssh.Stderr = osenv.Stderr
	if err := ssh.Start(); err != nil {
		return nil, nil, err
	}

	go func() {
		// TODO: correctly terminate the main process when the underlying SSH
		// process exits.
		if err := ssh.Wait(); err != nil {
			log.Printf("remote shell exited: %v", err)
		}
	}()

	return rc, wc, nil
}

// rsync/main.c:client_run
func clientRun(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, paths []string, negotiate bool) (*rsyncstats.TransferStats, error) {
	crd := &rsyncwire.CountingReader{R: conn}
	cwr := &rsyncwire.CountingWriter{W: conn}
	c := &rsyncwire.Conn{
		Reader: crd,
		Writer: cwr,
	}

	if negotiate {
		if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
			return nil, err
		}
		remoteProtocol, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if opts.Verbose() {
			log.Printf("remote protocol: %d", remoteProtocol)
		}
	}

	compatFlags, err := c.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading compat flags: %v", err)
	}
	if compatFlags&rsync.CF_INC_RECURSE != 0 && compatFlags&rsync.CF_SAFE_FLIST == 0 {
		return nil, fmt.Errorf("peer advertised CF_INC_RECURSE without CF_SAFE_FLIST")
	}

	seed, err := c.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading seed: %v", err)
	}

	mrd := &rsyncwire.MultiplexReader{
		Reader: conn,
	}
	// TODO: rearchitect such that our buffer can be smaller than the largest
	// rsync message size
	rd := bufio.NewReaderSize(mrd, 256*1024)
	c.Reader = rd

	if opts.Sender() {
		st := &sender.Transfer{
			Logger: log.New(osenv.Stderr),
			Opts:   opts,
			Conn:   c,
			Seed:   seed,
		}
		if opts.Verbose() {
			log.Printf("sender(paths=%q)", paths)
		}

		if len(paths) != 1 {
			// TODO: support more than one source
			return nil, fmt.Errorf("BUG: expected exactly one path, got %q", paths)
		}

		other := paths[0]
		trimPrefix := filepath.Base(filepath.Clean(other))
		if strings.HasSuffix(other, "/") {
			trimPrefix += "/"
		}
		stats, err := st.Do(crd, cwr, other, []string{trimPrefix}, nil)
		if err != nil {
			return nil, err
		}
		return stats, nil
	}

	if len(paths) != 1 {
		return nil, fmt.Errorf("BUG: expected exactly one path, got %q", paths)
	}

	rt := &receiver.Transfer{
		Logger: log.New(osenv.Stderr),
		Opts: &receiver.TransferOpts{
			Verbose: opts.Verbose(),
			DryRun:  opts.DryRun(),

			DeleteMode:       opts.DeleteMode(),
			PreserveGid:      opts.PreserveGid(),
			PreserveUid:      opts.PreserveUid(),
			PreserveLinks:    opts.PreserveLinks(),
			PreservePerms:    opts.PreservePerms(),
			PreserveDevices:  opts.PreserveDevices(),
			PreserveSpecials: opts.PreserveSpecials(),
			PreserveTimes:    opts.PreserveMTimes(),
			AlwaysChecksum:   opts.AlwaysChecksum(),
			DeferWrite:       opts.DeferWrite(),
		},
		Dest: paths[0],
		Env:  osenv,
		Conn: c,
		Seed: seed,
	}
	if opts.Verbose() {
		log.Printf("receiving to dest=%s", rt.Dest)
	}

	// TODO: implement support for exclusion; send an empty exclusion list
	// (client always sends one, server always receives).
	const exclusionListEnd = 0
	if err := c.WriteInt32(exclusionListEnd); err != nil {
		return nil, err
	}

	if opts.Verbose() {
		log.Printf("exclusion list sent")
	}

	// receive file list
	if opts.Verbose() {
		log.Printf("receiving file list")
	}
	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	if opts.Verbose() {
		log.Printf("received %d names", len(fileList))
	}

	return rt.Do(c, fileList, false)
}

// clientMain is rsync/main.c:main's client branch: Main has already parsed
// argv into opts/remaining; this applies the positional-argument rules
// (at least one SRC, optionally a DEST) before dispatching to rsyncMain.
func clientMain(ctx context.Context, osenv *rsyncos.Env, opts *rsyncopts.Options, remaining []string) (*rsyncstats.TransferStats, error) {
	if len(remaining) == 0 {
		// help goes to stderr when no arguments were specified
		fmt.Fprintln(osenv.Stderr, opts.Help())
		return nil, rsyncerr.Usage(fmt.Errorf("rsync error: syntax or usage error"))
	}
	if len(remaining) == 1 {
		// Usages with just one SRC arg and no DEST arg list the source files
		// instead of copying.
		dest := ""
		sources := remaining
		return rsyncMain(ctx, osenv.Std(), opts, sources, dest)
	}
	dest := remaining[len(remaining)-1]
	sources := remaining[:len(remaining)-1]
	return rsyncMain(ctx, osenv.Std(), opts, sources, dest)
}
