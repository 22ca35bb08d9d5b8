// Package capset implements the capability-applier component (§4.B):
// parsing a comma-separated, +/- prefixed capability list into a vector,
// and applying that vector by dropping the bounding set and setting the
// process's effective/permitted/inheritable sets.
//
// The vector manipulation is delegated to syndtr/gocapability, whose
// capability_linux.go the teacher's own container.go cites by name as
// the source of its hand-rolled CAPV3 struct; using the library directly
// instead of re-deriving the bit-twiddling is the natural next step.
package capset

import (
	"fmt"
	"strings"

	"github.com/syndtr/gocapability/capability"
)

// allCaps lists every capability gocapability knows about; "all" in a
// capability list expands to this set (§4.B).
func allCaps() []capability.Cap {
	caps := make([]capability.Cap, 0, capability.CAP_LAST_CAP+1)
	for c := capability.Cap(0); c <= capability.CAP_LAST_CAP; c++ {
		caps = append(caps, c)
	}
	return caps
}

// ParseList parses a comma-separated list where each token is optionally
// prefixed with '+' (add, the default) or '-' (drop), per §4.B and
// scenario 4 in §8 ("--cap-add=all,-chown,+sys_admin"). caps accumulates
// onto an existing vector so --cap-add and --cap-drop can be combined;
// pass a freshly loaded vector (capability.NewPid2(0) + Load) the first
// time.
func ParseList(caps capability.Capabilities, arg string) error {
	return parseWithDefault(caps, arg, true)
}

// ParseOneDirection is used by --cap-add/--cap-drop (as opposed to the
// combined --caps/"caps=" form handled by ParseList). defaultAdd is the
// sign implied by which flag was given (true for --cap-add, false for
// --cap-drop), but a token can still override it with an explicit
// leading '+'/'-', matching scenario 4 in §8
// ("--cap-add=all,-chown,+sys_admin").
func ParseOneDirection(caps capability.Capabilities, arg string, defaultAdd bool) error {
	return parseWithDefault(caps, arg, defaultAdd)
}

func parseWithDefault(caps capability.Capabilities, arg string, defaultAdd bool) error {
	for _, tok := range strings.Split(arg, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		add := defaultAdd
		switch tok[0] {
		case '+':
			add = true
			tok = tok[1:]
		case '-':
			add = false
			tok = tok[1:]
		}

		if err := applyOne(caps, tok, add); err != nil {
			return err
		}
	}
	return nil
}

var capFlags = []capability.CapType{capability.EFFECTIVE, capability.PERMITTED, capability.INHERITABLE}

func applyOne(caps capability.Capabilities, name string, add bool) error {
	if strings.EqualFold(name, "all") {
		set := allCaps()
		for _, flag := range capFlags {
			if add {
				caps.Set(flag, set...)
			} else {
				caps.Unset(flag, set...)
			}
		}
		return nil
	}

	c, ok := byName(name)
	if !ok {
		return fmt.Errorf("unknown capability: %s", name)
	}

	for _, flag := range capFlags {
		if add {
			caps.Set(flag, c)
		} else {
			caps.Unset(flag, c)
		}
	}
	return nil
}

// Names returns the capability names set in caps for the given flag,
// lowercase and without the "cap_" prefix — the inverse of ParseList,
// used to snapshot a built capability vector across a process boundary
// that can't carry gocapability's own (unexported) representation.
func Names(caps capability.Capabilities, flag capability.CapType) []string {
	var out []string
	for c := capability.Cap(0); c <= capability.CAP_LAST_CAP; c++ {
		if caps.Get(flag, c) {
			out = append(out, strings.TrimPrefix(c.String(), "cap_"))
		}
	}
	return out
}

// SetNames sets exactly the named capabilities on flag, clearing
// whatever was there before — the inverse of Names.
func SetNames(caps capability.Capabilities, flag capability.CapType, names []string) error {
	caps.Clear(flag)
	for _, name := range names {
		c, ok := byName(name)
		if !ok {
			return fmt.Errorf("unknown capability: %s", name)
		}
		caps.Set(flag, c)
	}
	return nil
}

// byName resolves a capability name case-insensitively, accepting both
// "sys_admin" and "CAP_SYS_ADMIN" forms.
func byName(name string) (capability.Cap, bool) {
	norm := strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "CAP_"))
	for c := capability.Cap(0); c <= capability.CAP_LAST_CAP; c++ {
		if strings.EqualFold(strings.TrimPrefix(c.String(), "cap_"), norm) {
			return c, true
		}
	}
	return 0, false
}

// supportsSetFCap reports whether the running kernel knows about
// CAP_SETFCAP, used as a proxy for capability support at all (§4.B,
// §7 point 3): a kernel old enough to lack it predates the full
// capability model this component depends on.
func supportsSetFCap() bool {
	return capability.CAP_SETFCAP <= capability.CAP_LAST_CAP
}

// Apply drops every capability not present in caps' effective set from
// the bounding set, then installs caps as the process's capability
// state (§4.B "Application"). It runs after no_new_privs and before
// seccomp, per §4.I's ordering contract.
func Apply(caps capability.Capabilities) error {
	if !supportsSetFCap() {
		return fmt.Errorf("kernel does not support CAP_SETFCAP")
	}

	for c := capability.Cap(0); c <= capability.CAP_LAST_CAP; c++ {
		if caps.Get(capability.EFFECTIVE, c) {
			caps.Set(capability.BOUNDING, c)
			continue
		}
		caps.Unset(capability.BOUNDING, c)
	}

	if err := caps.Apply(capability.BOUNDS); err != nil {
		return fmt.Errorf("drop bounding set: %w", err)
	}
	if err := caps.Apply(capability.CAPS); err != nil {
		return fmt.Errorf("apply capability vector: %w", err)
	}
	return nil
}

// NewFromProcess loads the current process's capability vector, the
// starting point §4.B specifies ("initialised from the current
// process's capabilities").
func NewFromProcess() (capability.Capabilities, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, fmt.Errorf("capability.NewPid2: %w", err)
	}
	if err := caps.Load(); err != nil {
		return nil, fmt.Errorf("load process capabilities: %w", err)
	}
	return caps, nil
}
