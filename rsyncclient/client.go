// Package rsyncclient provides an embeddable client for one side (sender or
// receiver) of an rsync protocol-30 session, given an already-established
// duplex connection (a subprocess's stdin/stdout, a net.Conn, an in-process
// pipe, or anything else satisfying io.ReadWriter).
package rsyncclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalbhor/grsync"
	"github.com/kalbhor/grsync/internal/log"
	"github.com/kalbhor/grsync/internal/receiver"
	"github.com/kalbhor/grsync/internal/rsyncopts"
	"github.com/kalbhor/grsync/internal/rsyncos"
	"github.com/kalbhor/grsync/internal/rsyncstats"
	"github.com/kalbhor/grsync/internal/rsyncwire"
	"github.com/kalbhor/grsync/internal/sender"
)

// Client drives one rsync session over a caller-supplied connection.
type Client struct {
	opts      *rsyncopts.Options
	negotiate bool
	stderr    io.Writer
}

// Option configures a Client returned by New.
type Option func(*Client)

// WithSender makes the client act as the sender (a "push"); without it, the
// client acts as the receiver (a "pull").
func WithSender() Option {
	return func(c *Client) { c.opts.SetSender() }
}

// WithStderr directs diagnostic logging to w instead of os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(c *Client) { c.stderr = w }
}

// WithoutNegotiation skips the protocol-version handshake, for use against
// a peer that already completed it (e.g. an rsyncd.Server's daemon-mode
// connection, which negotiates as part of the module handshake).
func WithoutNegotiation() Option {
	return func(c *Client) { c.negotiate = false }
}

// New parses args (standard rsync-style flags, without the destination/
// source positional arguments) and returns a Client ready to Run.
func New(args []string, opts ...Option) (*Client, error) {
	osenv := &rsyncos.Env{Stderr: os.Stderr}
	pc, err := rsyncopts.ParseArguments(osenv, args)
	if err != nil {
		return nil, err
	}
	c := &Client{
		opts:      pc.Options,
		negotiate: true,
		stderr:    os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes the transfer over rw, acting as sender or receiver per the
// options supplied to New. paths holds the (single) local path: the
// source when sending, the destination directory when receiving.
func (cl *Client) Run(ctx context.Context, rw io.ReadWriter, paths []string) (*rsyncstats.TransferStats, error) {
	if len(paths) != 1 {
		return nil, fmt.Errorf("rsyncclient: expected exactly one path, got %q", paths)
	}

	logger := log.New(cl.stderr)
	crd := &rsyncwire.CountingReader{R: rw}
	cwr := &rsyncwire.CountingWriter{W: rw}
	c := &rsyncwire.Conn{
		Reader: crd,
		Writer: cwr,
	}

	if cl.negotiate {
		if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
			return nil, err
		}
		if _, err := c.ReadInt32(); err != nil {
			return nil, fmt.Errorf("reading remote protocol version: %w", err)
		}
	}

	compatFlags, err := c.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading compat flags: %w", err)
	}
	if compatFlags&rsync.CF_INC_RECURSE != 0 && compatFlags&rsync.CF_SAFE_FLIST == 0 {
		return nil, fmt.Errorf("rsyncclient: peer advertised CF_INC_RECURSE without CF_SAFE_FLIST")
	}

	seed, err := c.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading checksum seed: %w", err)
	}

	mrd := &rsyncwire.MultiplexReader{Reader: rw}
	c.Reader = bufio.NewReaderSize(mrd, 256*1024)

	if cl.opts.Sender() {
		return cl.runSender(logger, crd, cwr, c, seed, paths[0])
	}
	return cl.runReceiver(ctx, logger, c, seed, paths[0])
}

func (cl *Client) runSender(logger log.Logger, crd *rsyncwire.CountingReader, cwr *rsyncwire.CountingWriter, c *rsyncwire.Conn, seed int32, src string) (*rsyncstats.TransferStats, error) {
	st := &sender.Transfer{
		Logger: logger,
		Opts:   cl.opts,
		Conn:   c,
		Seed:   seed,
	}

	trimPrefix := filepath.Base(filepath.Clean(src))
	if strings.HasSuffix(src, "/") {
		trimPrefix += "/"
	}
	return st.Do(crd, cwr, src, []string{trimPrefix}, nil)
}

func (cl *Client) runReceiver(ctx context.Context, logger log.Logger, c *rsyncwire.Conn, seed int32, dest string) (*rsyncstats.TransferStats, error) {
	_ = ctx // cancellation not yet wired through the receive loop
	rt := &receiver.Transfer{
		Logger: logger,
		Opts: &receiver.TransferOpts{
			Verbose: cl.opts.Verbose(),
			DryRun:  cl.opts.DryRun(),

			DeleteMode:       cl.opts.DeleteMode(),
			PreserveGid:      cl.opts.PreserveGid(),
			PreserveUid:      cl.opts.PreserveUid(),
			PreserveLinks:    cl.opts.PreserveLinks(),
			PreservePerms:    cl.opts.PreservePerms(),
			PreserveDevices:  cl.opts.PreserveDevices(),
			PreserveSpecials: cl.opts.PreserveSpecials(),
			PreserveTimes:    cl.opts.PreserveMTimes(),
			AlwaysChecksum:   cl.opts.AlwaysChecksum(),
			DeferWrite:       cl.opts.DeferWrite(),
		},
		Dest: dest,
		Env:  rsyncos.Std{Stderr: cl.stderr},
		Conn: c,
		Seed: seed,
	}

	const exclusionListEnd = 0
	if err := c.WriteInt32(exclusionListEnd); err != nil {
		return nil, err
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	return rt.Do(c, fileList, false)
}
