// Package cgroups implements the Cgroup Manager (§4.A): creation and
// destruction of the per-container cgroup-v1 hierarchy, task attachment,
// freeze/thaw, enumerate-and-signal, and the termination cascade that
// guarantees P3 (no surviving container-member PIDs once a run ends).
package cgroups

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/mapfile"
)

const tasksPollInterval = 500 * time.Microsecond

// Manager owns one container's cgroup-v1 hierarchy.
type Manager struct {
	spec *isolatecfg.CgroupSpec
}

// New wraps a cgroup spec. The spec's NormalizeControllers must already
// have been called so a freezer entry is guaranteed present (P2).
func New(spec *isolatecfg.CgroupSpec) *Manager {
	return &Manager{spec: spec}
}

func (m *Manager) groupDir() string {
	return filepath.Join(m.spec.RootDir, m.spec.Group)
}

func (m *Manager) controllerDir(c isolatecfg.CgroupController) string {
	return filepath.Join(m.groupDir(), c.DirName)
}

func (m *Manager) instanceDir(c isolatecfg.CgroupController) string {
	return filepath.Join(m.controllerDir(c), m.spec.Name)
}

// isMountpoint reports whether path is a mountpoint by comparing the
// device id of path against that of its parent, matching the original's
// mountpoint() helper.
func isMountpoint(path string) (bool, error) {
	var st, stParent unix.Stat_t

	if err := unix.Lstat(path, &st); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := unix.Lstat(filepath.Join(path, ".."), &stParent); err != nil {
		return false, err
	}
	return st.Dev != stParent.Dev, nil
}

func makeDirectory(path string) error {
	st, err := os.Lstat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("lstat: %s: %w", path, err)
		}
		if err := os.Mkdir(path, 0700); err != nil {
			return fmt.Errorf("mkdir: %s: %w", path, err)
		}
		return nil
	}
	if !st.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	return nil
}

// Create builds the cgroup-v1 directory tree for this container:
// <root>/<group>, then <root>/<group>/<controller dir> (mounting the
// controller there if it isn't already a mountpoint), then
// <root>/<group>/<controller dir>/<name> as the container's own cgroup,
// forcibly re-created if it already existed (§4.A "Creation").
func (m *Manager) Create() error {
	if m.spec.RootDir == "" {
		return nil
	}

	if err := makeDirectory(m.groupDir()); err != nil {
		return err
	}

	for _, c := range m.spec.Controllers {
		cdir := m.controllerDir(c)
		if err := makeDirectory(cdir); err != nil {
			return err
		}

		mounted, err := isMountpoint(cdir)
		if err != nil {
			return fmt.Errorf("checking mountpoint: %s: %w", cdir, err)
		}
		if !mounted {
			if err := unix.Mount("cgroup", cdir, "cgroup", 0, c.Controller); err != nil {
				return fmt.Errorf("mount(cgroup,%s): %s: %w", c.Controller, cdir, err)
			}
		}

		idir := m.instanceDir(c)
		if err := os.Mkdir(idir, 0700); err != nil {
			if !os.IsExist(err) {
				return fmt.Errorf("mkdir: %s: %w", idir, err)
			}
			if err := os.Remove(idir); err != nil {
				if os.IsPermission(err) || err == os.ErrInvalid {
					return fmt.Errorf("%s: directory already exists, unable to re-create: %w", idir, err)
				}
				return fmt.Errorf("rmdir: %s: %w", idir, err)
			}
			if err := os.Mkdir(idir, 0700); err != nil {
				return fmt.Errorf("mkdir: %s: %w", idir, err)
			}
		}
	}

	return nil
}

// Destroy tears the hierarchy back down: remove the instance directory
// under each controller, unmount and remove the controller directory if
// unmounting succeeds, best-effort (errors are recorded but do not abort
// the loop, matching cgroup_destroy's EXIT_SUCCESS-on-error behavior).
func (m *Manager) Destroy() error {
	if m.spec.RootDir == "" {
		return nil
	}

	var result *multierror.Error
	for _, c := range m.spec.Controllers {
		idir := m.instanceDir(c)
		if err := os.Remove(idir); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, fmt.Errorf("rmdir: %s: %w", idir, err))
		}

		cdir := m.controllerDir(c)
		if err := unix.Unmount(cdir, 0); err == nil {
			if err := os.Remove(cdir); err != nil && !os.IsNotExist(err) && !isBusy(err) {
				result = multierror.Append(result, fmt.Errorf("rmdir: %s: %w", cdir, err))
			}
		}
	}

	return result.ErrorOrNil()
}

func isBusy(err error) bool {
	return strings.Contains(err.Error(), "device or resource busy")
}

// Add writes pid into every controller's tasks file, attaching it to
// this container's cgroup (§4.A "Attachment").
func (m *Manager) Add(pid int) error {
	if m.spec.RootDir == "" {
		return nil
	}

	for _, c := range m.spec.Controllers {
		path := filepath.Join(m.instanceDir(c), "tasks")

		fd, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0666)
		if err != nil {
			return fmt.Errorf("open: %s: %w", path, err)
		}
		_, err = fmt.Fprintf(fd, "%d", pid)
		fd.Close()
		if err != nil {
			return fmt.Errorf("write pid=%d: %s: %w", pid, path, err)
		}
	}
	return nil
}

func (m *Manager) freezerController() (isolatecfg.CgroupController, bool) {
	for _, c := range m.spec.Controllers {
		if c.Controller == "freezer" {
			return c, true
		}
	}
	return isolatecfg.CgroupController{}, false
}

// setState writes state to freezer.state and polls until the kernel
// reflects it (or reports THAWED, the tie-break state per P1: a
// just-spawned process can observe THAWED before the freeze lands, and
// that counts as success too), matching cgroup_state's busy-wait loop.
func (m *Manager) setState(state string) error {
	c, ok := m.freezerController()
	if !ok {
		return fmt.Errorf("no freezer controller configured")
	}

	path := filepath.Join(m.instanceDir(c), "freezer.state")

	fd, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open: %s: %w", path, err)
	}
	defer fd.Close()

	if _, err := fd.WriteString(state); err != nil {
		return fmt.Errorf("write(%s): %s: %w", state, path, err)
	}

	buf := make([]byte, 256)
	for {
		if _, err := fd.Seek(0, 0); err != nil {
			return fmt.Errorf("lseek: %s: %w", path, err)
		}
		n, err := fd.Read(buf)
		if n <= 0 {
			return fmt.Errorf("read: %s: %w", path, err)
		}

		got := strings.TrimSuffix(string(buf[:n]), "\n")
		if got == state || got == "THAWED" {
			return nil
		}

		time.Sleep(tasksPollInterval)
	}
}

// Freeze sets the freezer controller to FROZEN and waits for it to take
// effect (§4.A "Freeze/Thaw").
func (m *Manager) Freeze() error { return m.setState("FROZEN") }

// Thaw sets the freezer controller to THAWED (§4.A "Freeze/Thaw").
func (m *Manager) Thaw() error { return m.setState("THAWED") }

// Signal sends signum to every pid recorded in the freezer controller's
// tasks file, returning the number of processes signalled (§4.A
// "Enumerate-and-signal"). signum 0 is a pure liveness probe: no signal
// is delivered, but the count still reflects survivors.
func (m *Manager) Signal(signum int) (int, error) {
	if m.spec.RootDir == "" {
		return 0, nil
	}

	c, ok := m.freezerController()
	if !ok {
		return 0, fmt.Errorf("no freezer controller configured")
	}

	path := filepath.Join(m.instanceDir(c), "tasks")

	f, err := mapfile.Open(path, true)
	if err != nil {
		return 0, fmt.Errorf("open tasks: %s: %w", path, err)
	}
	defer f.Close()

	data := f.Bytes()
	if len(data) == 0 {
		return 0, nil
	}

	procs := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return procs, fmt.Errorf("unable to read pid: %s: %w", path, err)
		}
		if err := unix.Kill(pid, unixSignal(signum)); err != nil && err != unix.ESRCH {
			return procs, fmt.Errorf("kill(%d, %d): %w", pid, signum, err)
		}
		procs++
	}
	if err := scanner.Err(); err != nil {
		return procs, fmt.Errorf("scan %s: %w", path, err)
	}

	return procs, nil
}

func unixSignal(signum int) unix.Signal {
	return unix.Signal(signum)
}

// killSequence is the signal escalation order the termination cascade
// cycles through (§4.A "Termination cascade"): a polite internal hint,
// the contract signal, then the unblockable fallback.
var killSequence = []unix.Signal{unix.SIGPWR, unix.SIGTERM, unix.SIGKILL}

// Kill runs the termination cascade until no container-member PIDs
// remain: {freeze, signal-all with cur, thaw, sleep} repeating with cur
// escalating through killSequence, looping back to SIGKILL once
// exhausted. Freezing before each signal wave prevents a process from
// forking between delivery and the next liveness probe (P3).
func (m *Manager) Kill() error {
	seq := 0
	for {
		n, err := m.Signal(0)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		sig := killSequence[seq]
		if seq < len(killSequence)-1 {
			seq++
		}

		if err := m.Freeze(); err != nil {
			return err
		}
		if _, err := m.Signal(int(sig)); err != nil {
			return err
		}
		if err := m.Thaw(); err != nil {
			return err
		}

		time.Sleep(tasksPollInterval)
	}
}
