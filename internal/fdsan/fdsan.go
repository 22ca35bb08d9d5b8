// Package fdsan implements the FD sanitizer component (§4.F):
// closing every inherited descriptor above stderr before the socketpair
// is created, and marking descriptors close-on-exec right before the
// final execve in the container-init grandchild.
package fdsan

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// getOpenMax mirrors get_open_max(): sysconf(_SC_OPEN_MAX) clamped to at
// least NR_OPEN (1024 on Linux).
func getOpenMax() int {
	lim, err := unix.Getrlimit(unix.RLIMIT_NOFILE)
	max := 1024
	if err == nil && lim.Cur != unix.RLIM_INFINITY && int(lim.Cur) > max {
		max = int(lim.Cur)
	}
	return max
}

// Sanitize verifies stdin/stdout/stderr are open, then closes every
// descriptor above them (§4.F "Sanitizer"). Run once at supervisor
// startup, before the socketpair and fork.
func Sanitize() error {
	unix.Umask(0)

	for fd := 0; fd <= 2; fd++ {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return fmt.Errorf("fstat(%d): %w", fd, err)
		}
	}

	maxFD := getOpenMax()
	for fd := 3; fd < maxFD; fd++ {
		unix.Close(fd)
	}
	return nil
}

// MarkCloseOnExec sets FD_CLOEXEC on every descriptor above stderr,
// matching cloexec_fds's placement immediately before the final
// execve in the container-init grandchild (§4.I step 15): any fd the
// handshake or mapfile readers left open past that point must not leak
// into the user program.
func MarkCloseOnExec() {
	maxFD := getOpenMax()
	for fd := 3; fd < maxFD; fd++ {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			continue
		}
		newFlags := flags | unix.FD_CLOEXEC
		if newFlags != flags {
			unix.FcntlInt(uintptr(fd), unix.F_SETFD, newFlags)
		}
	}
}
