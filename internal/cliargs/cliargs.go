// Package cliargs implements the CLI surface (§6 "CLI"):
// `isolate [options] {start|stop|status} NAME`, wrapping
// jessevdk/go-flags the way canonical-snapd's cmd/snap does for its own
// option parsing.
package cliargs

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
)

// Options is the full flag surface: global flags plus per-section
// overrides, all optional since every one of them can instead come from
// the config file (§6).
type Options struct {
	Verbose    []bool `short:"v" long:"verbose" description:"increase verbosity (repeatable)"`
	Version    bool   `short:"V" long:"version" description:"print version and exit"`
	Background bool   `short:"b" long:"background" description:"daemonize after setup"`
	Config     string `short:"c" long:"config" default:"/etc/isolate/config.ini" description:"configuration file"`
	Pidfile    string `short:"p" long:"pidfile" description:"override pidfile path"`
	CgroupsDir string `short:"C" long:"cgroups-dir" description:"override cgroup-v1 root directory"`

	Name         string `long:"name" description:"override container name"`
	RootDir      string `long:"root-dir" description:"override root directory"`
	Hostname     string `long:"hostname" description:"override hostname"`
	Input        string `long:"input" description:"override stdin redirection source"`
	Output       string `long:"output" description:"override stdout/stderr redirection target"`
	DevicesFile  string `long:"devices-file" description:"override devices-file path"`
	EnvironFile  string `long:"environ-file" description:"override environ-file path"`
	SeccompFile  string `long:"seccomp-file" description:"override seccomp-file path"`
	FstabFile    string `long:"fstab-file" description:"override fstab-file path"`
	CapAdd       string `long:"cap-add" description:"add capabilities (comma-separated)"`
	CapDrop      string `long:"cap-drop" description:"drop capabilities (comma-separated)"`
	UID          *int   `long:"uid" description:"override target uid"`
	GID          *int   `long:"gid" description:"override target gid"`
	Unshare      string `long:"unshare" description:"override namespace list to unshare"`
	Cgroups      string `long:"cgroups" description:"override controller list"`
	Nice         *int   `long:"nice" description:"override nice value"`
	NoNewPrivs   bool   `long:"no-new-privs" description:"set PR_SET_NO_NEW_PRIVS"`
	Init         string `long:"init" description:"override command line to exec"`

	Positional struct {
		Verb string `positional-arg-name:"VERB" description:"start|stop|status"`
		Name string `positional-arg-name:"NAME" description:"container name"`
	} `positional-args:"yes"`
}

// Parse parses argv (excluding argv[0]) into an Options.
func Parse(argv []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "isolate"
	parser.Usage = "[OPTIONS] {start|stop|status} NAME"

	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}

	if opts.Version {
		return &opts, nil
	}

	if opts.Positional.Verb == "" {
		return nil, fmt.Errorf("missing verb: expected start, stop, or status")
	}
	switch opts.Positional.Verb {
	case "start", "stop", "status":
	default:
		return nil, fmt.Errorf("unknown verb: %s", opts.Positional.Verb)
	}
	if opts.Positional.Name == "" && opts.Name == "" {
		return nil, fmt.Errorf("missing container NAME")
	}

	return &opts, nil
}

// Verbosity counts how many -v flags were given (§6 "verbose").
func (o *Options) Verbosity() int {
	return len(o.Verbose)
}
