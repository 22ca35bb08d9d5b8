package capset

import (
	"sort"
	"testing"

	"github.com/syndtr/gocapability/capability"
)

func emptyVector(t *testing.T) capability.Capabilities {
	t.Helper()
	caps, err := capability.NewPid2(0)
	if err != nil {
		t.Fatalf("capability.NewPid2: %v", err)
	}
	return caps
}

func TestParseListAddAndDrop(t *testing.T) {
	caps := emptyVector(t)

	if err := ParseList(caps, "+chown,+sys_admin,-chown"); err != nil {
		t.Fatalf("ParseList: %v", err)
	}

	if caps.Get(capability.EFFECTIVE, capability.CAP_CHOWN) {
		t.Error("expected CAP_CHOWN to end up unset after +chown,-chown")
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		t.Error("expected CAP_SYS_ADMIN to be set")
	}
}

func TestParseListAll(t *testing.T) {
	caps := emptyVector(t)

	if err := ParseList(caps, "all,-sys_admin"); err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		t.Error("expected CAP_SYS_ADMIN unset after all,-sys_admin")
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_CHOWN) {
		t.Error("expected CAP_CHOWN to still be set from 'all'")
	}
}

func TestParseListUnknownCapability(t *testing.T) {
	caps := emptyVector(t)
	if err := ParseList(caps, "not_a_real_capability"); err == nil {
		t.Fatal("expected error for unknown capability name")
	}
}

func TestParseOneDirection(t *testing.T) {
	caps := emptyVector(t)
	if err := ParseOneDirection(caps, "chown,sys_admin", true); err != nil {
		t.Fatalf("ParseOneDirection add: %v", err)
	}
	if err := ParseOneDirection(caps, "chown", false); err != nil {
		t.Fatalf("ParseOneDirection drop: %v", err)
	}
	if caps.Get(capability.EFFECTIVE, capability.CAP_CHOWN) {
		t.Error("expected CAP_CHOWN dropped")
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		t.Error("expected CAP_SYS_ADMIN still set")
	}
}

func TestParseOneDirectionPerTokenSignOverridesDefault(t *testing.T) {
	// §8 scenario 4: --cap-add=all,-chown,+sys_admin parses to "all caps
	// except CHOWN, plus SYS_ADMIN", which normalizes to "all except
	// CHOWN" since SYS_ADMIN is already in "all".
	caps := emptyVector(t)
	if err := ParseOneDirection(caps, "all,-chown,+sys_admin", true); err != nil {
		t.Fatalf("ParseOneDirection: %v", err)
	}
	if caps.Get(capability.EFFECTIVE, capability.CAP_CHOWN) {
		t.Error("expected CAP_CHOWN unset despite default add direction")
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		t.Error("expected CAP_SYS_ADMIN set")
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_KILL) {
		t.Error("expected other 'all' capabilities still set")
	}
}

func TestParseOneDirectionDropDefaultAppliesToBareTokens(t *testing.T) {
	caps := emptyVector(t)
	if err := ParseOneDirection(caps, "chown,sys_admin", true); err != nil {
		t.Fatalf("ParseOneDirection add: %v", err)
	}
	if err := ParseOneDirection(caps, "chown,+sys_admin", false); err != nil {
		t.Fatalf("ParseOneDirection drop: %v", err)
	}
	if caps.Get(capability.EFFECTIVE, capability.CAP_CHOWN) {
		t.Error("expected bare token to use the drop default")
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		t.Error("expected +sys_admin to override the drop default")
	}
}

func TestNamesRoundTrip(t *testing.T) {
	caps := emptyVector(t)
	if err := ParseOneDirection(caps, "chown,sys_admin,kill", true); err != nil {
		t.Fatalf("ParseOneDirection: %v", err)
	}

	names := Names(caps, capability.EFFECTIVE)
	sort.Strings(names)
	want := []string{"chown", "kill", "sys_admin"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}

	restored := emptyVector(t)
	if err := SetNames(restored, capability.EFFECTIVE, names); err != nil {
		t.Fatalf("SetNames: %v", err)
	}
	for _, n := range want {
		c, _ := byName(n)
		if !restored.Get(capability.EFFECTIVE, c) {
			t.Errorf("restored vector missing %s", n)
		}
	}
}

func TestSetNamesUnknownCapability(t *testing.T) {
	caps := emptyVector(t)
	if err := SetNames(caps, capability.EFFECTIVE, []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown capability name")
	}
}

func TestSupportsSetFCapOnThisKernel(t *testing.T) {
	// Any kernel capable of running this test suite is new enough to
	// know about CAP_SETFCAP; this pins the proxy check's happy path.
	if !supportsSetFCap() {
		t.Error("expected the test kernel to support CAP_SETFCAP")
	}
}

func TestByNameAcceptsCapPrefix(t *testing.T) {
	c1, ok1 := byName("sys_admin")
	c2, ok2 := byName("CAP_SYS_ADMIN")
	if !ok1 || !ok2 || c1 != c2 {
		t.Errorf("byName inconsistent: (%v,%v) vs (%v,%v)", c1, ok1, c2, ok2)
	}
}
