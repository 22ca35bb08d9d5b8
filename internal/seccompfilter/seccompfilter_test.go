package seccompfilter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubstituteNoVariables(t *testing.T) {
	got, err := Substitute("/etc/isolate/seccomp.policy")
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if got != "/etc/isolate/seccomp.policy" {
		t.Errorf("Substitute changed a path with no variables: %q", got)
	}
}

func TestSubstituteExpandsArch(t *testing.T) {
	got, err := Substitute("/etc/isolate/seccomp-$ARCH.policy")
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if got == "/etc/isolate/seccomp-$ARCH.policy" {
		t.Error("expected $ARCH to be expanded")
	}
}

func TestCstr(t *testing.T) {
	buf := [8]byte{'x', '8', '6', 0, 'j', 'u', 'n', 'k'}
	if got := cstr(buf[:]); got != "x86" {
		t.Errorf("cstr = %q, want %q", got, "x86")
	}
}

func TestResolvePathFallsBackToLiteral(t *testing.T) {
	dir := t.TempDir()
	literal := filepath.Join(dir, "seccomp-$ARCH.policy")
	if err := os.WriteFile(literal, []byte("default ALLOW\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ResolvePath(literal)
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != literal {
		t.Errorf("ResolvePath = %q, want %q", got, literal)
	}
}

func TestResolvePathNeitherExists(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolvePath(filepath.Join(dir, "nope-$ARCH.policy")); err == nil {
		t.Fatal("expected error when neither expanded nor literal path exists")
	}
}

func TestActionByName(t *testing.T) {
	cases := []string{"allow", "ALLOW", "kill", "trap", "errno(11)"}
	for _, name := range cases {
		if _, err := actionByName(name); err != nil {
			t.Errorf("actionByName(%q): %v", name, err)
		}
	}
}

func TestActionByNameUnknown(t *testing.T) {
	if _, err := actionByName("frobnicate"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestActionByNameBadErrno(t *testing.T) {
	if _, err := actionByName("errno(notanumber)"); err == nil {
		t.Fatal("expected error for malformed errno action")
	}
}

func openPolicy(t *testing.T, contents string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCompileUnknownSyscall(t *testing.T) {
	f := openPolicy(t, "default ALLOW\nnot_a_real_syscall KILL\n")
	if _, err := Compile(f); err == nil {
		t.Fatal("expected error for unknown syscall name")
	}
}

func TestCompileMalformedLine(t *testing.T) {
	f := openPolicy(t, "just one token\n")
	if _, err := Compile(f); err == nil {
		t.Fatal("expected error for malformed policy line")
	}
}
