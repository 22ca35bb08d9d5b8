package isolatecfg

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/syndtr/gocapability/capability"

	"github.com/legionus/make-initrd-isolation/internal/capset"
)

// wireContainer is Container's on-disk shape for handing a fully
// resolved spec across a self-reexec boundary: gocapability's
// Capabilities is an interface over an unexported concrete type, so Caps
// is flattened to its three name lists instead of carried directly.
type wireContainer struct {
	Name string

	Root     string
	Hostname string

	Input  string
	Output string

	DevicesFile string
	EnvironFile string
	SeccompFile string
	FstabFile   string

	CapsEffective   []string
	CapsPermitted   []string
	CapsInheritable []string

	Nice         int
	NoNewPrivs   bool
	UnshareFlags int

	UID int
	GID int

	Argv []string

	Mounts  []MountEntry
	Cgroups *CgroupSpec
}

// Save writes c to path for a later Load by a re-exec'd stage of the
// same run (§4.G process topology: the intermediate and container-init
// processes are separate address spaces reached via exec, not fork).
func Save(path string, c *Container) error {
	w := wireContainer{
		Name: c.Name, Root: c.Root, Hostname: c.Hostname,
		Input: c.Input, Output: c.Output,
		DevicesFile: c.DevicesFile, EnvironFile: c.EnvironFile,
		SeccompFile: c.SeccompFile, FstabFile: c.FstabFile,
		Nice: c.Nice, NoNewPrivs: c.NoNewPrivs, UnshareFlags: c.UnshareFlags,
		UID: c.UID, GID: c.GID, Argv: c.Argv,
		Mounts: c.Mounts, Cgroups: c.Cgroups,
	}
	if c.Caps != nil {
		w.CapsEffective = capset.Names(c.Caps, capability.EFFECTIVE)
		w.CapsPermitted = capset.Names(c.Caps, capability.PERMITTED)
		w.CapsInheritable = capset.Names(c.Caps, capability.INHERITABLE)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open spec file: %s: %w", path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(&w); err != nil {
		return fmt.Errorf("encode spec: %s: %w", path, err)
	}
	return nil
}

// Load reads a spec file written by Save.
func Load(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spec file: %s: %w", path, err)
	}
	defer f.Close()

	var w wireContainer
	if err := gob.NewDecoder(f).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode spec: %s: %w", path, err)
	}

	c := &Container{
		Name: w.Name, Root: w.Root, Hostname: w.Hostname,
		Input: w.Input, Output: w.Output,
		DevicesFile: w.DevicesFile, EnvironFile: w.EnvironFile,
		SeccompFile: w.SeccompFile, FstabFile: w.FstabFile,
		Nice: w.Nice, NoNewPrivs: w.NoNewPrivs, UnshareFlags: w.UnshareFlags,
		UID: w.UID, GID: w.GID, Argv: w.Argv,
		Mounts: w.Mounts, Cgroups: w.Cgroups,
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, fmt.Errorf("capability.NewPid2: %w", err)
	}
	if err := capset.SetNames(caps, capability.EFFECTIVE, w.CapsEffective); err != nil {
		return nil, err
	}
	if err := capset.SetNames(caps, capability.PERMITTED, w.CapsPermitted); err != nil {
		return nil, err
	}
	if err := capset.SetNames(caps, capability.INHERITABLE, w.CapsInheritable); err != nil {
		return nil, err
	}
	c.Caps = caps

	return c, nil
}
