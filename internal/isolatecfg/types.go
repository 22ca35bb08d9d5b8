// Package isolatecfg holds the data model shared by every component of
// an isolate run: the container spec built from config+CLI, and the
// cgroup spec it owns. Everything here is immutable after construction;
// ownership follows §3 of the specification (the supervisor owns the
// container spec for the lifetime of the run).
package isolatecfg

import "github.com/syndtr/gocapability/capability"

// MountEntry is one parsed line of an fstab-format file (§3, "Mount
// entry"). FsName/Dir/Type/Opts mirror mntent's mnt_fsname/mnt_dir/
// mnt_type/mnt_opts; Freq/Passno are carried for completeness but never
// consulted.
type MountEntry struct {
	FsName  string
	Dir     string
	Type    string
	Opts    string
	Freq    int
	Passno  int
}

// Pseudo mount types recognized in addition to real filesystem types.
const (
	MountTypeBindEnts = "_bindents"
	MountTypeUmount   = "_umount"
)

// DeviceEntry is one parsed line of a devices-file
// (`nod PATH MODE UID GID TYPE MAJOR MINOR`, §3/§4.E).
type DeviceEntry struct {
	Path  string
	Mode  uint32 // permission bits only, S_IFMT is derived from Type
	UID   int
	GID   int
	Type  DeviceType
	Major uint32
	Minor uint32
}

// DeviceType is the TYPE column of a devices-file line.
type DeviceType byte

const (
	DeviceChar   DeviceType = 'c'
	DeviceBlock  DeviceType = 'b'
	DeviceFIFO   DeviceType = 'p'
	DeviceSocket DeviceType = 's'
)

// CgroupSpec is the cgroup-v1 hierarchy a container is attached to
// (§3, "Cgroup spec"). Controllers always contains a freezer entry; see
// NormalizeControllers.
type CgroupSpec struct {
	RootDir     string // default /sys/fs/cgroup
	Group       string // default "isolate"
	Name        string // container instance name, unique per running container
	Controllers []CgroupController
}

// CgroupController is one (controller, mount-subdirectory) pair, e.g.
// ("freezer", "freezer") or ("cpu,cpuacct", "cpu").
type CgroupController struct {
	Controller string
	DirName    string
}

const freezerController = "freezer"

// NormalizeControllers ensures the freezer controller is present exactly
// once, appended if the caller's list didn't already request it. This is
// P2 from §8: the termination cascade in package cgroups depends
// unconditionally on a freezer entry existing.
func (cg *CgroupSpec) NormalizeControllers() {
	for _, c := range cg.Controllers {
		if c.Controller == freezerController {
			return
		}
	}
	cg.Controllers = append(cg.Controllers, CgroupController{
		Controller: freezerController,
		DirName:    freezerController,
	})
}

// Unshare namespace bits, named after the symbolic tokens in §4.C.
const (
	NSMount int = 1 << iota
	NSUTS
	NSIPC
	NSNet
	NSPID
	NSCgroup
	NSSysvSem
	NSFilesystem

	NSAll = NSMount | NSUTS | NSIPC | NSNet | NSPID | NSCgroup | NSSysvSem | NSFilesystem
)

// Container is the immutable-after-load spec for one named sandbox
// (§3, "Container spec").
type Container struct {
	Name string

	Root     string
	Hostname string

	Input  string // stdin redirection source, empty = unset
	Output string // stdout+stderr redirection target, empty = unset

	DevicesFile string
	EnvironFile string
	SeccompFile string
	FstabFile   string

	Caps capability.Capabilities

	Nice         int
	NoNewPrivs   bool
	UnshareFlags int

	UID int
	GID int

	Argv []string

	Mounts  []MountEntry
	Cgroups *CgroupSpec
}
