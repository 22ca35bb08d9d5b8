// Package pidlock implements the pidfile-based mutual exclusion and
// start/stop/status verb plumbing (§4.J): the pidfile's flock state is
// the single source of truth for "is a container running", since the
// pid it records is meaningless once the lock is free.
package pidlock

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// Acquire opens (creating if needed) and exclusively, non-blockingly
// locks path, then writes pid into it, matching append_pid. Returns
// ErrAlreadyRunning if another process already holds the lock.
func Acquire(path string, pid int) (*flock.Flock, error) {
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("flock: %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open: %s: %w", path, err)
	}
	_, err = fmt.Fprintf(f, "%d\n", pid)
	syncErr := f.Sync()
	closeErr := f.Close()
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write pidfile: %s: %w", path, err)
	}
	if syncErr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("fsync: %s: %w", path, syncErr)
	}
	if closeErr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("close: %s: %w", path, closeErr)
	}

	return lock, nil
}

// ErrAlreadyRunning is returned by Acquire when the pidfile is already
// locked by a live container.
var ErrAlreadyRunning = fmt.Errorf("container is already running")

// Release unlocks and removes the pidfile, matching the Supervisor's
// exit path (§4.A "On exit").
func Release(lock *flock.Flock, path string) error {
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("unlock: %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink: %s: %w", path, err)
	}
	return nil
}

// readPID reads the first whitespace-delimited token from path as a pid.
func readPID(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("unable to read pid: %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("unable to read pid: %s: %w", path, err)
	}
	return pid, nil
}

// Status implements the Status verb (§4.J): try a non-blocking exclusive
// flock; acquiring it means no holder, so the container is not running.
// EWOULDBLOCK means a holder exists; read its pid and probe it with
// kill(pid, 0).
func Status(path string) (running bool, err error) {
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("flock: %s: %w", path, err)
	}
	if locked {
		lock.Unlock()
		return false, nil
	}

	pid, err := readPID(path)
	if err != nil {
		return true, err
	}
	if err := unix.Kill(pid, 0); err != nil {
		return true, fmt.Errorf("kill: %w", err)
	}
	return true, nil
}

// Stop implements the Stop verb (§4.J): same lock test as Status, then
// SIGTERM to the Supervisor holding the pidfile.
func Stop(path string) (wasRunning bool, err error) {
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("flock: %s: %w", path, err)
	}
	if locked {
		lock.Unlock()
		return false, nil
	}

	pid, err := readPID(path)
	if err != nil {
		return true, err
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return true, fmt.Errorf("kill: %w", err)
	}
	return true, nil
}
