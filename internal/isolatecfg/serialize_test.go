package isolatecfg

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/syndtr/gocapability/capability"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		t.Fatalf("capability.NewPid2: %v", err)
	}
	caps.Set(capability.EFFECTIVE|capability.PERMITTED, capability.CAP_CHOWN, capability.CAP_SYS_ADMIN)

	c := &Container{
		Name:         "box1",
		Root:         "/srv/box1",
		Hostname:     "box1",
		UnshareFlags: NSMount | NSPID,
		UID:          1000,
		GID:          1000,
		Argv:         []string{"/bin/sh", "-c", "true"},
		Caps:         caps,
		Cgroups: &CgroupSpec{
			RootDir:     "/sys/fs/cgroup",
			Group:       "isolate",
			Name:        "box1",
			Controllers: []CgroupController{{Controller: "freezer", DirName: "freezer"}},
		},
		Mounts: []MountEntry{{FsName: "none", Dir: "/proc", Type: "proc", Opts: "defaults"}},
	}

	path := filepath.Join(t.TempDir(), "spec.gob")
	if err := Save(path, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Name != c.Name || got.Root != c.Root || got.UnshareFlags != c.UnshareFlags {
		t.Errorf("scalar fields mismatch: %+v", got)
	}
	if len(got.Argv) != 3 || got.Argv[2] != "true" {
		t.Errorf("Argv = %v", got.Argv)
	}
	if got.Cgroups == nil || got.Cgroups.Name != "box1" {
		t.Errorf("Cgroups = %+v", got.Cgroups)
	}
	if len(got.Mounts) != 1 || got.Mounts[0].Dir != "/proc" {
		t.Errorf("Mounts = %+v", got.Mounts)
	}

	var effNames []string
	for cap := capability.Cap(0); cap <= capability.CAP_LAST_CAP; cap++ {
		if got.Caps.Get(capability.EFFECTIVE, cap) {
			effNames = append(effNames, cap.String())
		}
	}
	sort.Strings(effNames)
	if len(effNames) != 2 {
		t.Errorf("restored effective caps = %v, want 2 entries", effNames)
	}
}

func TestSaveLoadNilCaps(t *testing.T) {
	c := &Container{Name: "box2", Root: "/srv/box2", Argv: []string{"/bin/true"}}

	path := filepath.Join(t.TempDir(), "spec.gob")
	if err := Save(path, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "box2" {
		t.Errorf("Name = %q", got.Name)
	}
}
