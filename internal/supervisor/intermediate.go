package supervisor

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/handshake"
	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/nsflags"
)

// RunIntermediate is the body of the process that exists only to
// unshare namespaces and fork once more so the next process lands as
// PID 1 of a new PID namespace (§4.G process topology): unshare(2) on a
// process that later forks moves the *children* into the new namespace,
// never the caller itself, which is why this extra hop exists at all.
//
// sock is the child side of the handshake socketpair (the Supervisor
// keeps the other end), inherited at fd 3 by the re-exec.
func RunIntermediate(c *isolatecfg.Container, sock handshake.FDConn, specPath string) int {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "prctl(PR_SET_PDEATHSIG): %v\n", err)
		return 1
	}

	if err := handshake.Expect(sock, handshake.KindForkClient); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	// Namespace unshare is per-thread until this goroutine forks; lock
	// it to its OS thread so the runtime doesn't migrate us mid-unshare.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := nsflags.Unshare(c.UnshareFlags); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	argv, err := ReexecArgs(StageContainerInit, specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	sockFile := os.NewFile(uintptr(sock.Fd()), "isolate-handshake")
	cmd, err := spawnReexec(argv, sockFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	pid := cmd.Process.Pid

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pid))
	if err := handshake.Send(sock, handshake.KindClientPID, buf[:]); err != nil {
		fmt.Fprintf(os.Stderr, "unable to transfer pid: %v\n", err)
		return 1
	}

	return 0
}
