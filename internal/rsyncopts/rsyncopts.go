// Package rsyncopts parses the command-line surface this implementation
// actually supports. rsync's full popt(3) option table is treated as an
// external collaborator and is intentionally not reimplemented here. It
// wires --exclude/--include/--exclude-from/--include-from into a real
// internal/filter.RuleSet rather than erroring out on them.
package rsyncopts

import (
	"fmt"
	"os"

	"github.com/DavidGamba/go-getoptions"

	"github.com/kalbhor/grsync/internal/filter"
	"github.com/kalbhor/grsync/internal/rsyncos"
	"github.com/kalbhor/grsync/internal/version"
)

// Options holds the parsed value of every recognized flag plus the
// few pieces of state (am_server, am_sender, local_server) the role
// dispatch in maincmd needs to track across the session.
type Options struct {
	recurse         bool
	times           bool
	perms           bool
	owner           bool
	group           bool
	links           bool
	dirs            bool
	archive         bool
	ignoreTimes     bool
	deleteMode      bool
	numericIds      bool
	passwordFile    string
	port            int
	charset         string
	deferWrite      bool
	verbose         int
	dryRun          bool
	devices         bool
	specials        bool

	exclusions *filter.RuleSet

	shellCmd     string
	server       bool
	sender       bool
	daemon       bool
	localServer  bool

	connectTimeout int
}

// NewOptions returns an Options struct with archive-mode defaults unset;
// ParseArguments fills it in from the command line.
func NewOptions() *Options {
	return &Options{exclusions: filter.New()}
}

func (o *Options) Recurse() bool               { return o.recurse || o.archive }
func (o *Options) PreserveMTimes() bool        { return o.times || o.archive }
func (o *Options) PreservePerms() bool         { return o.perms || o.archive }
func (o *Options) PreserveUid() bool           { return o.owner || o.archive }
func (o *Options) PreserveGid() bool           { return o.group || o.archive }
func (o *Options) PreserveLinks() bool         { return o.links || o.archive }
func (o *Options) PreserveDevices() bool       { return o.devices || o.archive }
func (o *Options) PreserveSpecials() bool      { return o.specials || o.archive }
func (o *Options) PreserveHardLinks() bool     { return false }
func (o *Options) XferDirs() bool              { return o.dirs || o.Recurse() }
func (o *Options) AlwaysChecksum() bool        { return o.ignoreTimes }
func (o *Options) DeleteMode() bool            { return o.deleteMode }
func (o *Options) NumericIds() bool            { return o.numericIds }
func (o *Options) PasswordFile() string        { return o.passwordFile }
func (o *Options) Port() int                   { return o.port }
func (o *Options) Charset() string             { return o.charset }
func (o *Options) DeferWrite() bool            { return o.deferWrite }
func (o *Options) Verbose() bool               { return o.verbose > 0 }
func (o *Options) VerboseLevel() int           { return o.verbose }
func (o *Options) DryRun() bool                { return o.dryRun }
func (o *Options) Exclusions() *filter.RuleSet { return o.exclusions }

func (o *Options) ShellCommand() string       { return o.shellCmd }
func (o *Options) Sender() bool               { return o.sender }
func (o *Options) SetSender()                 { o.sender = true }
func (o *Options) Server() bool               { return o.server }
func (o *Options) Daemon() bool               { return o.daemon }
func (o *Options) LocalServer() bool          { return o.localServer }
func (o *Options) SetLocalServer()            { o.localServer = true }
func (o *Options) ConnectTimeoutSeconds() int { return o.connectTimeout }

func (o *Options) Help() string {
	return version.Read() + `

grsync is a native Go implementation of the rsync wire protocol (version 30).

  Usage: grsync [OPTION]... SRC [SRC]... DEST
    or   grsync [OPTION]... SRC [SRC]... [USER@]HOST::DEST
    or   grsync [OPTION]... [USER@]HOST::SRC DEST

  Options:
  --recursive, -r          recurse into directories
  --times, -t              preserve modification times
  --perms, -p              preserve permissions
  --owner, -o              preserve owner (super-user only)
  --group, -g              preserve group
  --links, -l              copy symlinks as symlinks
  --dirs, -d               transfer directories without recursing
  --archive, -a            archive mode, equivalent to -rlptgoD
  --devices, -D            preserve device and special files
  --hard-links, -H         preserve hard links (not yet implemented)
  --ignore-times, -I       don't skip files that match size and time
  --delete                 delete extraneous files from dest dirs
  --numeric-ids            don't map uid/gid values by user/group name
  --exclude=PATTERN        exclude files matching PATTERN
  --include=PATTERN        don't exclude files matching PATTERN
  --exclude-from=FILE      read exclude patterns from FILE
  --include-from=FILE      read include patterns from FILE
  --password-file=FILE     read daemon-access password from FILE
  --port=N                 connect to a non-default daemon port
  --charset=NAME            charset to assume for the module listing
  --defer-write            keep the existing file if the rebuilt copy is identical
  --dry-run, -n            perform a trial run with no changes made
  --verbose, -v            increase verbosity (repeatable)
  --help, -h               show this help
`
}

// ParseArguments parses args (without the program name) into an Options
// value plus the remaining positional arguments (source/dest paths).
func ParseArguments(osenv *rsyncos.Env, args []string) (*Context, error) {
	opts := NewOptions()
	opt := getoptions.New()
	opt.SetMode(getoptions.Bundling)

	opt.BoolVar(&opts.recurse, "recursive", false, opt.Alias("r"))
	opt.BoolVar(&opts.times, "times", false, opt.Alias("t"))
	opt.BoolVar(&opts.perms, "perms", false, opt.Alias("p"))
	opt.BoolVar(&opts.owner, "owner", false, opt.Alias("o"))
	opt.BoolVar(&opts.group, "group", false, opt.Alias("g"))
	opt.BoolVar(&opts.links, "links", false, opt.Alias("l"))
	opt.BoolVar(&opts.dirs, "dirs", false, opt.Alias("d"))
	opt.BoolVar(&opts.archive, "archive", false, opt.Alias("a"))
	opt.BoolVar(&opts.ignoreTimes, "ignore-times", false, opt.Alias("I"))
	var devicesAndSpecials bool
	opt.BoolVar(&devicesAndSpecials, "devices", false, opt.Alias("D"))
	opt.BoolVar(&opts.deleteMode, "delete", false)
	opt.BoolVar(&opts.numericIds, "numeric-ids", false)
	opt.StringVar(&opts.passwordFile, "password-file", "")
	opt.IntVar(&opts.port, "port", 0)
	opt.StringVar(&opts.charset, "charset", "")
	opt.BoolVar(&opts.deferWrite, "defer-write", false)
	opt.BoolVar(&opts.dryRun, "dry-run", false, opt.Alias("n"))
	// Hard link preservation is accepted for CLI compatibility but not yet
	// implemented (PreserveHardLinks always reports false).
	opt.Bool("hard-links", false, opt.Alias("H"))
	opt.BoolVar(&opts.server, "server", false)
	opt.BoolVar(&opts.sender, "sender", false)
	opt.BoolVar(&opts.daemon, "daemon", false)
	opt.StringVar(&opts.shellCmd, "rsh", "", opt.Alias("e"))
	opt.IntVar(&opts.connectTimeout, "contimeout", 0)

	var excludes, includes, excludeFrom, includeFrom []string
	opt.StringSliceVar(&excludes, "exclude", 1, 1)
	opt.StringSliceVar(&includes, "include", 1, 1)
	opt.StringSliceVar(&excludeFrom, "exclude-from", 1, 1)
	opt.StringSliceVar(&includeFrom, "include-from", 1, 1)

	helpWanted := opt.Bool("help", false, opt.Alias("h"))
	opt.IncrementVar(&opts.verbose, "verbose", 0, opt.Alias("v"))

	remaining, err := opt.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	if devicesAndSpecials {
		opts.devices = true
		opts.specials = true
	}

	for _, pattern := range excludes {
		opts.exclusions.AddExclude(pattern)
	}
	for _, pattern := range includes {
		opts.exclusions.AddInclude(pattern)
	}
	for _, path := range excludeFrom {
		if err := opts.exclusions.AddExcludeFrom(path); err != nil {
			return nil, err
		}
	}
	for _, path := range includeFrom {
		if err := opts.exclusions.AddIncludeFrom(path); err != nil {
			return nil, err
		}
	}

	if *helpWanted {
		fmt.Fprintln(os.Stdout, opts.Help())
		os.Exit(0)
	}

	return &Context{Options: opts, RemainingArgs: remaining}, nil
}

// Context is the result of parsing: the populated Options plus whatever
// non-flag arguments were left over (source/dest paths).
type Context struct {
	Options       *Options
	RemainingArgs []string
}
