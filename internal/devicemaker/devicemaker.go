// Package devicemaker creates device nodes under a new root from a
// parsed devices-file (internal/devtab), implementing §4.E "Device
// Maker". It runs before chroot, mirroring containerMknodDevices's
// placement ahead of containerSetupRoot in the teacher's sequencing.
package devicemaker

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
)

var typeBits = map[isolatecfg.DeviceType]uint32{
	isolatecfg.DeviceChar:   unix.S_IFCHR,
	isolatecfg.DeviceBlock:  unix.S_IFBLK,
	isolatecfg.DeviceFIFO:   unix.S_IFIFO,
	isolatecfg.DeviceSocket: unix.S_IFSOCK,
}

// Apply creates every entry under newroot in document order, mirroring
// do_mount's no-rollback behavior: the first failure aborts container
// start (§4.E).
func Apply(newroot string, entries []isolatecfg.DeviceEntry) error {
	for _, ent := range entries {
		if err := makeOne(newroot, ent); err != nil {
			return err
		}
	}
	return nil
}

func makeOne(newroot string, ent isolatecfg.DeviceEntry) error {
	path := filepath.Join(newroot, ent.Path)

	bits, ok := typeBits[ent.Type]
	if !ok {
		return fmt.Errorf("mknod: %s: unknown device type %q", path, ent.Type)
	}

	mode := ent.Mode | bits

	var dev int
	switch ent.Type {
	case isolatecfg.DeviceChar, isolatecfg.DeviceBlock:
		dev = int(unix.Mkdev(ent.Major, ent.Minor))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink: %s: %w", path, err)
	}

	if err := unix.Mknod(path, mode, dev); err != nil {
		return fmt.Errorf("mknod: %s: %w", path, err)
	}

	if err := unix.Lchown(path, ent.UID, ent.GID); err != nil {
		return fmt.Errorf("chown: %s: %w", path, err)
	}

	return nil
}
