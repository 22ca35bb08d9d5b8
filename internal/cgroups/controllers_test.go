package cgroups

import "testing"

func TestParseControllers(t *testing.T) {
	got := ParseControllers("cpu,cpuacct, freezer ,cpu")
	if len(got) != 3 {
		t.Fatalf("got %d controllers, want 3 (dedup): %+v", len(got), got)
	}
	want := []string{"cpu", "cpuacct", "freezer"}
	for i, c := range got {
		if c.Controller != want[i] || c.DirName != want[i] {
			t.Errorf("controller %d = %+v, want %s", i, c, want[i])
		}
	}
}

func TestParseControllersEmpty(t *testing.T) {
	got := ParseControllers("")
	if len(got) != 0 {
		t.Errorf("expected no controllers for empty spec, got %+v", got)
	}
}
