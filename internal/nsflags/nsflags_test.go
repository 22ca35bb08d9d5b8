package nsflags

import (
	"os"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
)

func TestParse(t *testing.T) {
	flags, err := Parse("mount,pid,NET")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := isolatecfg.NSMount | isolatecfg.NSPID | isolatecfg.NSNet
	if flags != want {
		t.Errorf("flags = %#x, want %#x", flags, want)
	}
}

func TestParseAll(t *testing.T) {
	flags, err := Parse("all")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if flags != isolatecfg.NSAll {
		t.Errorf("flags = %#x, want NSAll", flags)
	}
}

func TestParseRejectsPrefixMatch(t *testing.T) {
	// Neither a truncated token ("p") nor one with trailing garbage
	// ("netquux") may match a namespace name: the original's
	// prefix-matching bug is deliberately not reproduced.
	if _, err := Parse("p"); err == nil {
		t.Fatal("expected error for non-exact namespace token")
	}
	if _, err := Parse("netquux"); err == nil {
		t.Fatal("expected error for namespace token with trailing garbage")
	}
}

func TestParseEmpty(t *testing.T) {
	flags, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if flags != 0 {
		t.Errorf("flags = %#x, want 0", flags)
	}
}

func TestCloneFlags(t *testing.T) {
	got := CloneFlags(isolatecfg.NSMount | isolatecfg.NSPID)
	want := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID)
	if got != want {
		t.Errorf("CloneFlags = %#x, want %#x", got, want)
	}
}

func TestCloneFlagName(t *testing.T) {
	if got := cloneFlagName(unix.CLONE_NEWNET); got != "net" {
		t.Errorf("cloneFlagName(CLONE_NEWNET) = %q, want %q", got, "net")
	}
}

func TestUnshareEmptyIsNoop(t *testing.T) {
	if err := Unshare(0); err != nil {
		t.Errorf("Unshare(0): %v", err)
	}
}

func TestUnshareUnprivilegedNamesOffendingNamespace(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can unshare everything; this pins the unprivileged failure shape")
	}
	err := Unshare(isolatecfg.NSMount)
	if err == nil {
		t.Skip("unshare(CLONE_NEWNS) unexpectedly succeeded without privilege")
	}
	if !strings.Contains(err.Error(), "unshare(mount)") {
		t.Errorf("error = %q, want it to name the offending namespace", err)
	}
}

func TestNames(t *testing.T) {
	if got := Names(isolatecfg.NSAll); got != "all" {
		t.Errorf("Names(NSAll) = %q, want %q", got, "all")
	}
	if got := Names(0); got != "none" {
		t.Errorf("Names(0) = %q, want %q", got, "none")
	}
	if got := Names(isolatecfg.NSMount | isolatecfg.NSPID); got != "mount,pid" {
		t.Errorf("Names(mount|pid) = %q, want %q", got, "mount,pid")
	}
}
