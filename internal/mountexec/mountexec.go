// Package mountexec applies a parsed fstab (internal/fstab) against a
// new root, implementing §4.D "Mount Executor". It runs inside the
// container-init grandchild after the mount namespace has been
// unshared, so every mount(2) here is confined to that namespace.
package mountexec

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/fstab"
	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/rtlog"
)

// Apply walks entries in document order and mounts each under newroot,
// matching do_mount's single linear pass with no rollback: a failure
// aborts the whole container start (§4.D).
func Apply(log *rtlog.Context, newroot string, entries []isolatecfg.MountEntry) error {
	log.Debug("changing mountpoints")

	for _, ent := range entries {
		if err := applyOne(log, newroot, ent); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(log *rtlog.Context, newroot string, ent isolatecfg.MountEntry) error {
	flags, err := fstab.ParseOptions(ent.Opts)
	if err != nil {
		return err
	}

	mpoint := filepath.Join(newroot, ent.Dir)

	if flags.Mkdir {
		if err := os.Mkdir(mpoint, os.FileMode(flags.Mode)); err != nil && !os.IsExist(err) {
			return fmt.Errorf("mkdir: %s: %w", mpoint, err)
		}
	}

	if _, err := os.Lstat(mpoint); err != nil {
		log.Warn(nil, "mountpoint not found in the isolation: %s", ent.Dir)
		return nil
	}

	switch ent.Type {
	case isolatecfg.MountTypeBindEnts:
		log.Trace("mount(bind) content into the isolation: %s", mpoint)
		if err := unix.Mount("tmpfs", mpoint, "tmpfs", flags.VFS, flags.Data); err != nil {
			return fmt.Errorf("mount(_bindents): %s: %w", mpoint, err)
		}
		return bindEnts(ent.FsName, mpoint)

	case isolatecfg.MountTypeUmount:
		log.Trace("umount from the isolation: %s", mpoint)
		if err := unix.Unmount(mpoint, unix.MNT_DETACH); err != nil {
			return fmt.Errorf("umount2: %s: %w", mpoint, err)
		}
		return nil
	}

	switch {
	case flags.VFS&unix.MS_BIND != 0:
		log.Trace("mount(bind) into the isolation: %s", mpoint)
	case flags.VFS&unix.MS_MOVE != 0:
		log.Trace("mount(move) into the isolation: %s", mpoint)
	default:
		log.Trace("mount into the isolation: %s", mpoint)
	}

	if err := unix.Mount(ent.FsName, mpoint, ent.Type, flags.VFS, flags.Data); err != nil {
		return fmt.Errorf("mount: %s: %w", mpoint, err)
	}

	if flags.VFS&unix.MS_RDONLY != 0 {
		return remountRO(mpoint)
	}
	return nil
}

// bindEnts non-recursively bind-mounts every direct child of source
// under a freshly-mounted tmpfs at target, mirroring directory entries
// as either empty directories or empty files so the bind target exists
// (§4.D "_bindents"). Unlike a single recursive bind of the whole
// directory, this lets entries under the tmpfs be individually replaced
// or removed without affecting source.
func bindEnts(source, target string) error {
	d, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opendir: %s: %w", source, err)
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return fmt.Errorf("readdir: %s: %w", source, err)
	}

	for _, name := range names {
		spath := filepath.Join(source, name)
		tpath := filepath.Join(target, name)

		info, err := os.Lstat(spath)
		if err != nil {
			return fmt.Errorf("lstat: %s: %w", spath, err)
		}

		if info.IsDir() {
			if err := os.Mkdir(tpath, 0755); err != nil {
				return fmt.Errorf("mkdir: %s: %w", tpath, err)
			}
		} else {
			fd, err := os.OpenFile(tpath, os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("open: %s: %w", tpath, err)
			}
			fd.Close()
		}

		if err := unix.Mount(spath, tpath, "none", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("mount: %s: %w", tpath, err)
		}
	}

	return nil
}

// remountRO reapplies a filesystem's existing flags plus MS_RDONLY via
// statfs read-back, working around the kernel's refusal to set MS_RDONLY
// together with other data-bearing options in a single mount(2) call for
// some filesystem types (§4.D point 5).
func remountRO(mpoint string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(mpoint, &st); err != nil {
		return fmt.Errorf("statfs: %s: %w", mpoint, err)
	}

	if st.Flags&unix.ST_RDONLY != 0 {
		return nil
	}

	newFlags := fstab.RemountFlags(st.Flags)

	if err := unix.Mount(mpoint, mpoint, "none", newFlags, ""); err != nil {
		return fmt.Errorf("mount(remount,ro): %s: %w", mpoint, err)
	}
	return nil
}
