// Command grsync is a native Go implementation of the rsync wire protocol
// (version 30), usable as a client, a remote-shell --server, or a
// standalone TCP daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kalbhor/grsync/internal/maincmd"
	"github.com/kalbhor/grsync/internal/rsyncerr"
	"github.com/kalbhor/grsync/internal/rsyncos"
)

func main() {
	osenv := &rsyncos.Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	_, err := maincmd.Main(context.Background(), osenv, os.Args, nil)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(int(rsyncerr.ExitCode(err)))
}
