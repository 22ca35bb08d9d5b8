// Package iniconfig loads the INI configuration file (§6 "Configuration
// file") that supplies defaults for every named container, wrapping
// mvo5/goconfigparser the way canonical-snapd's boot/modeenv.go does for
// its own config parsing.
package iniconfig

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mvo5/goconfigparser"
)

// Global holds the [global] section's keys.
type Global struct {
	Verbose    int
	CgroupsDir string
	PidDir     string
}

// Section holds one [isolate NAME] / [isolate "NAME"] section's keys,
// every field optional (absence means "use the CLI/default value").
type Section struct {
	Name string

	RootDir     string
	Hostname    string
	Input       string
	Output      string
	DevicesFile string
	EnvironFile string
	SeccompFile string
	FstabFile   string
	Caps        string
	UID         *int
	GID         *int
	Unshare     string
	Cgroups     string
	Nice        *int
	NoNewPrivs  *bool
	Init        string
}

// File is a fully parsed configuration file.
type File struct {
	Global   Global
	Sections map[string]Section
}

var sectionNameRE = regexp.MustCompile(`^isolate\s+"?([^"]+)"?$`)

// Load reads and parses path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %s: %w", path, err)
	}
	defer f.Close()

	cfg := goconfigparser.New()
	if err := cfg.Read(f); err != nil {
		return nil, fmt.Errorf("parse config: %s: %w", path, err)
	}

	result := &File{Sections: make(map[string]Section)}

	if cfg.HasOption("global", "verbose") {
		v, err := cfg.GetInt("global", "verbose")
		if err != nil {
			return nil, fmt.Errorf("global.verbose: %w", err)
		}
		result.Global.Verbose = v
	}
	if v, err := cfg.Get("global", "cgroups-dir"); err == nil {
		result.Global.CgroupsDir = v
	}
	if v, err := cfg.Get("global", "pid-dir"); err == nil {
		result.Global.PidDir = v
	}

	for _, sectionHeader := range cfg.Sections() {
		m := sectionNameRE.FindStringSubmatch(sectionHeader)
		if m == nil {
			continue
		}
		name := m[1]

		sec := Section{Name: name}
		if v, err := cfg.Get(sectionHeader, "root-dir"); err == nil {
			sec.RootDir = v
		}
		if v, err := cfg.Get(sectionHeader, "hostname"); err == nil {
			sec.Hostname = v
		}
		if v, err := cfg.Get(sectionHeader, "input"); err == nil {
			sec.Input = v
		}
		if v, err := cfg.Get(sectionHeader, "output"); err == nil {
			sec.Output = v
		}
		if v, err := cfg.Get(sectionHeader, "devices-file"); err == nil {
			sec.DevicesFile = v
		}
		if v, err := cfg.Get(sectionHeader, "environ-file"); err == nil {
			sec.EnvironFile = v
		}
		if v, err := cfg.Get(sectionHeader, "seccomp-file"); err == nil {
			sec.SeccompFile = v
		}
		if v, err := cfg.Get(sectionHeader, "fstab-file"); err == nil {
			sec.FstabFile = v
		}
		if v, err := cfg.Get(sectionHeader, "caps"); err == nil {
			sec.Caps = v
		}
		if v, err := cfg.Get(sectionHeader, "uid"); err == nil {
			n, perr := strconv.Atoi(strings.TrimSpace(v))
			if perr != nil {
				return nil, fmt.Errorf("%s.uid: %w", sectionHeader, perr)
			}
			sec.UID = &n
		}
		if v, err := cfg.Get(sectionHeader, "gid"); err == nil {
			n, perr := strconv.Atoi(strings.TrimSpace(v))
			if perr != nil {
				return nil, fmt.Errorf("%s.gid: %w", sectionHeader, perr)
			}
			sec.GID = &n
		}
		if v, err := cfg.Get(sectionHeader, "unshare"); err == nil {
			sec.Unshare = v
		}
		if v, err := cfg.Get(sectionHeader, "cgroups"); err == nil {
			sec.Cgroups = v
		}
		if v, err := cfg.Get(sectionHeader, "nice"); err == nil {
			n, perr := strconv.Atoi(strings.TrimSpace(v))
			if perr != nil {
				return nil, fmt.Errorf("%s.nice: %w", sectionHeader, perr)
			}
			sec.Nice = &n
		}
		if cfg.HasOption(sectionHeader, "no-new-privs") {
			b, perr := cfg.GetBool(sectionHeader, "no-new-privs")
			if perr != nil {
				return nil, fmt.Errorf("%s.no-new-privs: %w", sectionHeader, perr)
			}
			sec.NoNewPrivs = &b
		}
		if v, err := cfg.Get(sectionHeader, "init"); err == nil {
			sec.Init = v
		}

		result.Sections[name] = sec
	}

	return result, nil
}
