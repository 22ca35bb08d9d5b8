// Package config assembles a Container spec from a config-file section
// and CLI overrides, the Go analogue of isolate-config.c/isolate-
// arguments.c's combined pass over iniparser state and getopt results:
// CLI flags win, config-file values fill in the rest, built-in defaults
// fill in what's left.
package config

import (
	"fmt"
	"strings"

	"github.com/legionus/make-initrd-isolation/internal/capset"
	"github.com/legionus/make-initrd-isolation/internal/cgroups"
	"github.com/legionus/make-initrd-isolation/internal/cliargs"
	"github.com/legionus/make-initrd-isolation/internal/fstab"
	"github.com/legionus/make-initrd-isolation/internal/iniconfig"
	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/nsflags"
)

const (
	defaultCgroupsDir = "/sys/fs/cgroup"
	defaultPidDir      = "/run/isolate"
	defaultCgroupGroup = "isolate"
)

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func pickInt(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

// Result bundles the built container spec with the run-time paths
// derived alongside it.
type Result struct {
	Container *isolatecfg.Container
	PidFile   string
	Verbose   int
}

// Build loads configPath, locates the section for name, and overlays
// opts on top of it.
func Build(configPath, name string, opts *cliargs.Options) (*Result, error) {
	cfgFile, err := iniconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	sec, ok := cfgFile.Sections[name]
	if !ok {
		sec = iniconfig.Section{Name: name}
	}

	c := &isolatecfg.Container{Name: name}

	c.Root = pick(opts.RootDir, sec.RootDir)
	if c.Root == "" {
		return nil, fmt.Errorf("no root-dir configured for %q", name)
	}
	c.Hostname = pick(opts.Hostname, sec.Hostname)
	c.Input = pick(opts.Input, sec.Input)
	c.Output = pick(opts.Output, sec.Output)
	c.DevicesFile = pick(opts.DevicesFile, sec.DevicesFile)
	c.EnvironFile = pick(opts.EnvironFile, sec.EnvironFile)
	c.SeccompFile = pick(opts.SeccompFile, sec.SeccompFile)
	c.FstabFile = pick(opts.FstabFile, sec.FstabFile)

	c.UID = pickInt(opts.UID, pickInt(sec.UID, 0))
	c.GID = pickInt(opts.GID, pickInt(sec.GID, 0))
	c.Nice = pickInt(opts.Nice, pickInt(sec.Nice, 0))

	switch {
	case opts.NoNewPrivs:
		c.NoNewPrivs = true
	case sec.NoNewPrivs != nil:
		c.NoNewPrivs = *sec.NoNewPrivs
	}

	unshareSpec := pick(opts.Unshare, sec.Unshare)
	if unshareSpec != "" {
		flags, err := nsflags.Parse(unshareSpec)
		if err != nil {
			return nil, fmt.Errorf("unshare: %w", err)
		}
		c.UnshareFlags = flags
	}

	initLine := pick(opts.Init, sec.Init)
	if initLine == "" {
		return nil, fmt.Errorf("no init command configured for %q", name)
	}
	c.Argv = strings.Fields(initLine)

	caps, err := capset.NewFromProcess()
	if err != nil {
		return nil, err
	}
	if sec.Caps != "" {
		if err := capset.ParseList(caps, sec.Caps); err != nil {
			return nil, fmt.Errorf("caps: %w", err)
		}
	}
	if opts.CapAdd != "" {
		if err := capset.ParseOneDirection(caps, opts.CapAdd, true); err != nil {
			return nil, fmt.Errorf("cap-add: %w", err)
		}
	}
	if opts.CapDrop != "" {
		if err := capset.ParseOneDirection(caps, opts.CapDrop, false); err != nil {
			return nil, fmt.Errorf("cap-drop: %w", err)
		}
	}
	c.Caps = caps

	if c.FstabFile != "" {
		mounts, err := fstab.Parse(c.FstabFile)
		if err != nil {
			return nil, err
		}
		c.Mounts = mounts
	}

	cgroupsDir := pick(opts.CgroupsDir, pick(cfgFile.Global.CgroupsDir, defaultCgroupsDir))
	controllerSpec := pick(opts.Cgroups, sec.Cgroups)

	c.Cgroups = &isolatecfg.CgroupSpec{
		RootDir:     cgroupsDir,
		Group:       defaultCgroupGroup,
		Name:        name,
		Controllers: cgroups.ParseControllers(controllerSpec),
	}
	c.Cgroups.NormalizeControllers()

	pidDir := pick(cfgFile.Global.PidDir, defaultPidDir)
	pidFile := opts.Pidfile
	if pidFile == "" {
		pidFile = fmt.Sprintf("%s/%s.pid", pidDir, name)
	}

	verbose := opts.Verbosity()
	if verbose == 0 {
		verbose = cfgFile.Global.Verbose
	}

	return &Result{Container: c, PidFile: pidFile, Verbose: verbose}, nil
}
