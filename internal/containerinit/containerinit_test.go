package containerinit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindExecutableAbsolutePathPassesThrough(t *testing.T) {
	got, err := findExecutable("/bin/true")
	if err != nil {
		t.Fatalf("findExecutable: %v", err)
	}
	if got != "/bin/true" {
		t.Errorf("findExecutable(%q) = %q, want unchanged", "/bin/true", got)
	}
}

func TestFindExecutableRelativeDotPathPassesThrough(t *testing.T) {
	got, err := findExecutable("./run")
	if err != nil {
		t.Fatalf("findExecutable: %v", err)
	}
	if got != "./run" {
		t.Errorf("findExecutable(%q) = %q, want unchanged", "./run", got)
	}
}

func TestFindExecutableSearchesPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "mytool")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	oldPath := os.Getenv("PATH")
	defer os.Setenv("PATH", oldPath)
	os.Setenv("PATH", dir)

	got, err := findExecutable("mytool")
	if err != nil {
		t.Fatalf("findExecutable: %v", err)
	}
	if got != bin {
		t.Errorf("findExecutable(%q) = %q, want %q", "mytool", got, bin)
	}
}

func TestFindExecutableNotFound(t *testing.T) {
	oldPath := os.Getenv("PATH")
	defer os.Setenv("PATH", oldPath)
	os.Setenv("PATH", t.TempDir())

	if _, err := findExecutable("does-not-exist-anywhere"); err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestReopenFDErrorsOnMissingDirectory(t *testing.T) {
	// reopenFD's own fd juggling (dup2 onto a live descriptor) isn't
	// exercised here since it would hijack the test binary's stdio; the
	// open() failure path is what's worth pinning down in isolation.
	path := filepath.Join(t.TempDir(), "missing-dir", "out.log")

	if err := reopenFD(path, 17); err == nil {
		t.Fatal("expected error opening a file under a missing directory")
	}
}
