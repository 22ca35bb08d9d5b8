package cgroups

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
)

func testSpec(root string) *isolatecfg.CgroupSpec {
	spec := &isolatecfg.CgroupSpec{
		RootDir: root,
		Group:   "isolate",
		Name:    "box1",
		Controllers: []isolatecfg.CgroupController{
			{Controller: "freezer", DirName: "freezer"},
		},
	}
	return spec
}

func TestManagerPathHelpers(t *testing.T) {
	m := New(testSpec("/sys/fs/cgroup"))
	c := isolatecfg.CgroupController{Controller: "freezer", DirName: "freezer"}

	if got, want := m.groupDir(), "/sys/fs/cgroup/isolate"; got != want {
		t.Errorf("groupDir() = %q, want %q", got, want)
	}
	if got, want := m.controllerDir(c), "/sys/fs/cgroup/isolate/freezer"; got != want {
		t.Errorf("controllerDir() = %q, want %q", got, want)
	}
	if got, want := m.instanceDir(c), "/sys/fs/cgroup/isolate/freezer/box1"; got != want {
		t.Errorf("instanceDir() = %q, want %q", got, want)
	}
}

func TestManagerEmptyRootDirIsNoop(t *testing.T) {
	m := New(testSpec(""))

	if err := m.Create(); err != nil {
		t.Errorf("Create() with empty RootDir should be a no-op, got %v", err)
	}
	if err := m.Destroy(); err != nil {
		t.Errorf("Destroy() with empty RootDir should be a no-op, got %v", err)
	}
	if err := m.Add(1234); err != nil {
		t.Errorf("Add() with empty RootDir should be a no-op, got %v", err)
	}
	n, err := m.Signal(0)
	if err != nil || n != 0 {
		t.Errorf("Signal() with empty RootDir = (%d, %v), want (0, nil)", n, err)
	}
}

func TestIsMountpointNotAMountpoint(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "child")
	if err := os.Mkdir(sub, 0700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	mounted, err := isMountpoint(sub)
	if err != nil {
		t.Fatalf("isMountpoint: %v", err)
	}
	if mounted {
		t.Error("plain subdirectory should not be detected as a mountpoint")
	}
}

func TestIsMountpointMissingPath(t *testing.T) {
	mounted, err := isMountpoint(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("isMountpoint: %v", err)
	}
	if mounted {
		t.Error("missing path should not be reported as a mountpoint")
	}
}

func TestFreezerController(t *testing.T) {
	m := New(testSpec("/sys/fs/cgroup"))
	c, ok := m.freezerController()
	if !ok || c.Controller != "freezer" {
		t.Errorf("freezerController() = %+v, %v", c, ok)
	}

	noFreezer := New(&isolatecfg.CgroupSpec{RootDir: "/sys/fs/cgroup", Controllers: nil})
	if _, ok := noFreezer.freezerController(); ok {
		t.Error("expected no freezer controller when none configured")
	}
}

func TestKillSequenceEscalatesToSIGKILL(t *testing.T) {
	if killSequence[len(killSequence)-1] != unix.SIGKILL {
		t.Errorf("last signal in killSequence = %v, want SIGKILL", killSequence[len(killSequence)-1])
	}
}
