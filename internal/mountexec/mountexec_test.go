//go:build linux

package mountexec

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/rtlog"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("mount(2) requires root")
	}
}

func mountTmpfsQuiet(dir string) error {
	return unix.Mount("tmpfs", dir, "tmpfs", 0, "")
}

func unixUnmountQuiet(dir string) error {
	return unix.Unmount(dir, unix.MNT_DETACH)
}

func TestApplyMissingMountpointWarnsAndSkips(t *testing.T) {
	log := rtlog.New(os.Stderr, 0)
	newroot := t.TempDir()

	ent := isolatecfg.MountEntry{
		Dir:  "/does-not-exist",
		Type: "tmpfs",
	}

	if err := applyOne(log, newroot, ent); err != nil {
		t.Fatalf("applyOne: %v", err)
	}
}

func TestApplyCreatesMountpointWhenMkdirRequested(t *testing.T) {
	log := rtlog.New(os.Stderr, 0)
	newroot := t.TempDir()

	ent := isolatecfg.MountEntry{
		Dir:  "/new",
		Type: isolatecfg.MountTypeUmount,
		Opts: "x-mount.mkdir=0750",
	}

	// Umount on a freshly created, never-mounted directory fails, but the
	// mkdir side effect happens first and is what this test pins down.
	_ = applyOne(log, newroot, ent)

	st, err := os.Stat(filepath.Join(newroot, "new"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !st.IsDir() {
		t.Errorf("expected a directory at the mountpoint")
	}
}

func TestApplyBindEntsMirrorsSourceTree(t *testing.T) {
	requireRoot(t)

	log := rtlog.New(os.Stderr, 0)
	newroot := t.TempDir()
	source := t.TempDir()

	if err := os.Mkdir(filepath.Join(source, "subdir"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(source, "file"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(newroot, "target"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	ent := isolatecfg.MountEntry{
		Dir:    "/target",
		Type:   isolatecfg.MountTypeBindEnts,
		FsName: source,
	}

	if err := applyOne(log, newroot, ent); err != nil {
		t.Fatalf("applyOne: %v", err)
	}

	if _, err := os.Stat(filepath.Join(newroot, "target", "subdir")); err != nil {
		t.Errorf("expected mirrored subdir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(newroot, "target", "file")); err != nil {
		t.Errorf("expected mirrored file: %v", err)
	}

	_ = unixUnmountQuiet(filepath.Join(newroot, "target", "subdir"))
	_ = unixUnmountQuiet(filepath.Join(newroot, "target", "file"))
	_ = unixUnmountQuiet(filepath.Join(newroot, "target"))
}

func TestRemountROReappliesExistingFlags(t *testing.T) {
	requireRoot(t)

	dir := t.TempDir()
	if err := mountTmpfsQuiet(dir); err != nil {
		t.Fatalf("mount tmpfs: %v", err)
	}
	defer unixUnmountQuiet(dir)

	if err := remountRO(dir); err != nil {
		t.Fatalf("remountRO: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0644); err == nil {
		t.Error("expected write to fail on a read-only remount")
	}
}
