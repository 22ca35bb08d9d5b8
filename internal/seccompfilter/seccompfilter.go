// Package seccompfilter implements the capability/seccomp/no-new-privs
// application pipeline's seccomp stage (§4.I steps 12-13): resolving the
// $ARCH/$RELEASE variables in a configured policy path, compiling the
// policy there, and installing it into the calling process.
//
// The policy compiler itself is an out-of-scope external collaborator
// (§1, §6) — only its interface is specified. The policy text format
// below (one rule per line: "default ACTION" or "SYSCALL ACTION") is
// the concrete shape that interface takes, built on
// seccomp/libseccomp-golang rather than re-deriving BPF generation by
// hand.
package seccompfilter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// Substitute expands $ARCH and $RELEASE in path using the running
// kernel's uname.machine and uname.release (§6 "Variable substitution
// in seccomp-file"). If the expanded path doesn't exist, the caller
// falls back to the literal, unexpanded path (§8 scenario 6).
func Substitute(path string) (string, error) {
	if !strings.Contains(path, "$ARCH") && !strings.Contains(path, "$RELEASE") {
		return path, nil
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}

	expanded := path
	expanded = strings.ReplaceAll(expanded, "$ARCH", cstr(uts.Machine[:]))
	expanded = strings.ReplaceAll(expanded, "$RELEASE", cstr(uts.Release[:]))
	return expanded, nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ResolvePath applies Substitute and falls back to the unexpanded path
// if the expansion doesn't exist on disk, erroring only if neither does.
func ResolvePath(path string) (string, error) {
	expanded, err := Substitute(path)
	if err != nil {
		return "", err
	}
	if expanded == path {
		return path, nil
	}
	if _, err := os.Stat(expanded); err == nil {
		return expanded, nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("seccomp policy not found: tried %s and %s", expanded, path)
	}
	return path, nil
}

// actionByName maps the policy file's textual actions to libseccomp
// actions.
func actionByName(name string) (seccomp.ScmpAction, error) {
	upper := strings.ToUpper(name)
	if upper == "ALLOW" {
		return seccomp.ActAllow, nil
	}
	if upper == "KILL" {
		return seccomp.ActKillThread, nil
	}
	if upper == "TRAP" {
		return seccomp.ActTrap, nil
	}
	if strings.HasPrefix(upper, "ERRNO(") && strings.HasSuffix(upper, ")") {
		n, err := strconv.Atoi(upper[len("ERRNO(") : len(upper)-1])
		if err != nil {
			return seccomp.ActInvalid, fmt.Errorf("bad errno action: %s", name)
		}
		return seccomp.ActErrno.SetReturnCode(int16(n)), nil
	}
	return seccomp.ActInvalid, fmt.Errorf("unknown seccomp action: %s", name)
}

// Compile parses an already-open policy filehandle and builds a
// loaded-but-not-yet-applied libseccomp filter (§4.I step 13,
// "compile"). The caller must open the policy file before chroot and
// pass the handle through — by the time Compile runs (after chroot),
// the path that resolved it on the host view may no longer resolve
// inside the container root. The file format is one rule per line:
// "default ACTION" sets the filter's default action (ALLOW if no
// default line is present, matching an allow-by-default posture);
// "SYSCALL ACTION" adds a per-syscall rule. Blank lines and '#'
// comments are ignored.
func Compile(r io.Reader) (*seccomp.ScmpFilter, error) {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return nil, fmt.Errorf("seccomp.NewFilter: %w", err)
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			filter.Release()
			return nil, fmt.Errorf("line %d: expected 'SYSCALL ACTION', got %q", lineNo, line)
		}

		action, err := actionByName(fields[1])
		if err != nil {
			filter.Release()
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		if strings.EqualFold(fields[0], "default") {
			if err := filter.SetDefaultAction(action); err != nil {
				filter.Release()
				return nil, fmt.Errorf("line %d: set default action: %w", lineNo, err)
			}
			continue
		}

		call, err := seccomp.GetSyscallFromName(fields[0])
		if err != nil {
			filter.Release()
			return nil, fmt.Errorf("line %d: unknown syscall %q: %w", lineNo, fields[0], err)
		}

		if err := filter.AddRule(call, action); err != nil {
			filter.Release()
			return nil, fmt.Errorf("line %d: add rule %s: %w", lineNo, fields[0], err)
		}
	}
	if err := scanner.Err(); err != nil {
		filter.Release()
		return nil, fmt.Errorf("scan: %w", err)
	}

	return filter, nil
}

// Apply installs filter into the calling process (§4.I step 13,
// "apply"), then frees the compiled program, matching load_seccomp's
// kafel_ctxt_destroy/xfree(prog.filter) cleanup.
func Apply(filter *seccomp.ScmpFilter) error {
	defer filter.Release()

	if err := filter.Load(); err != nil {
		return fmt.Errorf("prctl(PR_SET_SECCOMP): %w", err)
	}
	return nil
}
