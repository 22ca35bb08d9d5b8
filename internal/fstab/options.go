package fstab

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Flags is the parsed result of a mount option string: the VFS flag
// bitfield, the residual filesystem-specific data string, and an
// optional x-mount.mkdir request (§3 "Mount option set").
type Flags struct {
	VFS   uintptr
	Data  string
	Mkdir bool
	Mode  uint32 // only meaningful if Mkdir is true
}

// optEffect describes what a single recognized option token does to the
// VFS flag accumulator: set Bit, or clear it (Invert), matching
// isolate-mount.c's mountflag_values table exactly (each name maps to a
// bit and a direction).
type optEffect struct {
	bit    uintptr
	invert bool
}

// optionTable is the fixed option vocabulary from §3. Order matters only
// in that later entries in a comma list override earlier ones for the
// same bit, which falls naturally out of processing tokens left-to-right.
var optionTable = map[string]optEffect{
	"ro": {unix.MS_RDONLY, false}, "rw": {unix.MS_RDONLY, true},
	"noatime": {unix.MS_NOATIME, false}, "atime": {unix.MS_NOATIME, true},
	"nodev": {unix.MS_NODEV, false}, "dev": {unix.MS_NODEV, true},
	"nodiratime": {unix.MS_NODIRATIME, false}, "diratime": {unix.MS_NODIRATIME, true},
	"noexec": {unix.MS_NOEXEC, false}, "exec": {unix.MS_NOEXEC, true},
	"nosuid": {unix.MS_NOSUID, false}, "suid": {unix.MS_NOSUID, true},
	"sync": {unix.MS_SYNCHRONOUS, false}, "async": {unix.MS_SYNCHRONOUS, true},
	"relatime": {unix.MS_RELATIME, false}, "norelatime": {unix.MS_RELATIME, true},
	"strictatime": {unix.MS_STRICTATIME, false}, "nostrictatime": {unix.MS_STRICTATIME, true},
	"dirsync": {unix.MS_DIRSYNC, false}, "nodirsync": {unix.MS_DIRSYNC, true},
	"lazytime": {unix.MS_LAZYTIME, false}, "nolazytime": {unix.MS_LAZYTIME, true},
	"mand": {unix.MS_MANDLOCK, false}, "nomand": {unix.MS_MANDLOCK, true},

	"rec":      {unix.MS_REC, false},
	"bind":     {unix.MS_BIND, false},
	"rbind":    {unix.MS_BIND | unix.MS_REC, false},
	"move":     {unix.MS_MOVE, false},
	"remount":  {unix.MS_REMOUNT, false},
	"shared":   {unix.MS_SHARED, false},
	"rshared":  {unix.MS_SHARED | unix.MS_REC, false},
	"slave":    {unix.MS_SLAVE, false},
	"rslave":   {unix.MS_SLAVE | unix.MS_REC, false},
}

const mkdirOpt = "x-mount.mkdir"

// ParseOptions parses a comma-separated mount option string into a VFS
// flag bitfield plus residual data (§3 "Mount option set", §4.D).
// Unknown "x-*" options are silently ignored; everything else
// unrecognized accumulates verbatim into Data.
func ParseOptions(opts string) (Flags, error) {
	var f Flags

	var data []string
	for _, tok := range strings.Split(opts, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		if eff, ok := optionTable[tok]; ok {
			if eff.invert {
				f.VFS &^= eff.bit
			} else {
				f.VFS |= eff.bit
			}
			continue
		}

		if strings.HasPrefix(tok, mkdirOpt) {
			f.Mkdir = true
			f.Mode = 0755
			if rest := strings.TrimPrefix(tok, mkdirOpt); strings.HasPrefix(rest, "=") {
				mode, err := strconv.ParseUint(rest[1:], 8, 32)
				if err != nil {
					return Flags{}, fmt.Errorf("invalid value for %q option: %s", mkdirOpt, rest[1:])
				}
				f.Mode = uint32(mode)
			}
			continue
		}

		if strings.HasPrefix(tok, "x-") {
			continue
		}

		data = append(data, tok)
	}

	f.Data = strings.Join(data, ",")
	return f, nil
}

// statfsFlag pairs a statfs() ST_* read-back flag with the MS_* mount
// flag it corresponds to, used by RemountFlags to recover the VFS flags
// of an already-mounted filesystem (§4.D point 5, "Preserved flags").
type statfsFlag struct {
	st int64
	ms uintptr
}

var statfsPairs = []statfsFlag{
	{unix.ST_MANDLOCK, unix.MS_MANDLOCK},
	{unix.ST_NOATIME, unix.MS_NOATIME},
	{unix.ST_NODEV, unix.MS_NODEV},
	{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
	{unix.ST_NOEXEC, unix.MS_NOEXEC},
	{unix.ST_NOSUID, unix.MS_NOSUID},
	{unix.ST_RELATIME, unix.MS_RELATIME},
	{unix.ST_SYNCHRONOUS, unix.MS_SYNCHRONOUS},
}

// RemountFlags translates a statfs() flag word back into the MS_REMOUNT
// flag set needed to reapply read-only-ness without dropping the other
// flags already in effect on the mountpoint (§4.D point 5).
func RemountFlags(statfsFlags int64) uintptr {
	flags := uintptr(unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_BIND)
	for _, p := range statfsPairs {
		if statfsFlags&p.st != 0 {
			flags |= p.ms
		}
	}
	return flags
}
