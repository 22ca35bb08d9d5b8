// Package supervisor implements the Supervisor (§4.H): the top-level
// parent process for a container run. It locks the pidfile, creates the
// cgroup hierarchy, spawns the intermediate child, and multiplexes the
// handshake socket and a signalfd on an epoll set until the grand-child
// exits, then runs the termination cascade and returns the recorded
// exit code.
package supervisor

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/cgroups"
	"github.com/legionus/make-initrd-isolation/internal/fdsan"
	"github.com/legionus/make-initrd-isolation/internal/handshake"
	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/pidlock"
	"github.com/legionus/make-initrd-isolation/internal/rtlog"
)

// Options carries the run-time knobs that aren't part of the container
// spec itself.
type Options struct {
	Background bool
	SyslogTag  string
}

const idleTimeoutMS = 1000
const maxWaitingTicks = 5

// Run drives one full container lifecycle and returns the process exit
// code to report to the caller.
func Run(log *rtlog.Context, c *isolatecfg.Container, pidfilePath string, opts Options) (int, error) {
	if err := unix.Access(c.Root, unix.R_OK|unix.X_OK); err != nil {
		return 1, fmt.Errorf("access: %s: %w", c.Root, err)
	}

	// §4.H orders these steps: pidfile locking first, so a second
	// instance with the same name exits before doing any of the
	// following work, then setgroups, fd sanitization, socketpair
	// creation, fork. Daemonization is done by the caller, before Run is
	// entered.
	lock, err := pidlock.Acquire(pidfilePath, os.Getpid())
	if err != nil {
		if err == pidlock.ErrAlreadyRunning {
			log.Info("container is already running")
			return 1, nil
		}
		return 1, err
	}

	if err := unix.Setgroups(nil); err != nil {
		pidlock.Release(lock, pidfilePath)
		return 1, fmt.Errorf("setgroups: %w", err)
	}

	if err := fdsan.Sanitize(); err != nil {
		pidlock.Release(lock, pidfilePath)
		return 1, err
	}

	specPath := pidfilePath + ".spec"
	if err := isolatecfg.Save(specPath, c); err != nil {
		pidlock.Release(lock, pidfilePath)
		return 1, err
	}
	defer os.Remove(specPath)

	sv0, sv1, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		pidlock.Release(lock, pidfilePath)
		return 1, fmt.Errorf("socketpair: %w", err)
	}
	childSock := handshake.FDConn(sv0)
	childFile := os.NewFile(uintptr(sv1), "isolate-handshake")

	argv, err := ReexecArgs(StageIntermediate, specPath)
	if err != nil {
		unix.Close(sv0)
		childFile.Close()
		pidlock.Release(lock, pidfilePath)
		return 1, err
	}

	cmd, err := spawnReexec(argv, childFile)
	childFile.Close() // parent's copy; the child keeps its own dup
	if err != nil {
		unix.Close(sv0)
		pidlock.Release(lock, pidfilePath)
		return 1, err
	}
	tempPid := cmd.Process.Pid

	rc, err := runParentLoop(log, c, childSock, tempPid)

	cg := cgroups.New(c.Cgroups)
	if killErr := cg.Kill(); killErr != nil {
		log.Warn(killErr, "termination cascade")
	}
	if destroyErr := cg.Destroy(); destroyErr != nil {
		log.Warn(destroyErr, "cgroup destroy")
	}
	if relErr := pidlock.Release(lock, pidfilePath); relErr != nil {
		log.Warn(relErr, "pidfile release")
	}

	return rc, err
}

func runParentLoop(log *rtlog.Context, c *isolatecfg.Container, childSock handshake.FDConn, tempPid int) (int, error) {
	cg := cgroups.New(c.Cgroups)
	if err := cg.Create(); err != nil {
		return 1, err
	}

	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return 1, fmt.Errorf("prctl(PR_SET_CHILD_SUBREAPER): %w", err)
	}

	mask := sigFillExcept(unix.SIGABRT, unix.SIGSEGV)
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &mask, nil); err != nil {
		return 1, fmt.Errorf("sigprocmask: %w", err)
	}

	sigFD, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return 1, fmt.Errorf("signalfd: %w", err)
	}
	defer unix.Close(sigFD)

	epFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return 1, fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epFD)

	for _, fd := range []int{sigFD, childSock.Fd()} {
		if err := unix.EpollCtl(epFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
			return 1, fmt.Errorf("epoll_ctl: %w", err)
		}
	}

	var (
		epTimeout     = 0
		forkSent      = false
		initFinished  = false
		waitingTicks  = 0
		childPID      = 0
		rc            = 0
	)

	for {
		events := make([]unix.EpollEvent, 42)
		n, err := unix.EpollWait(epFD, events, epTimeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 1, fmt.Errorf("epoll_wait: %w", err)
		}

		if n == 0 {
			if !initFinished {
				if !forkSent {
					if err := handshake.Send(childSock, handshake.KindForkClient, nil); err != nil {
						return 1, err
					}
					forkSent = true
				} else if childPID == 0 {
					waitingTicks++
					if waitingTicks > maxWaitingTicks {
						log.Warn(nil, "waiting for client's pid for too long")
						return 1, fmt.Errorf("intermediate child wedged")
					}
				}
			}
			epTimeout = idleTimeoutMS
			continue
		}

		for i := 0; i < n; i++ {
			if events[i].Events&unix.EPOLLIN == 0 {
				continue
			}
			fd := int(events[i].Fd)

			switch fd {
			case sigFD:
				var buf [unix.SizeofSignalfdSiginfo]byte
				nread, err := unix.Read(sigFD, buf[:])
				if err != nil || nread != unix.SizeofSignalfdSiginfo {
					log.Warn(nil, "unable to read signal info")
					continue
				}
				siginfo := (*unix.SignalfdSiginfo)(unsafe.Pointer(&buf[0]))
				if unix.Signal(siginfo.Signo) != unix.SIGCHLD {
					return rc, nil
				}

				var ws unix.WaitStatus
				pid, err := unix.Wait4(-1, &ws, 0, nil)
				if err != nil {
					return 1, fmt.Errorf("waitpid: %w", err)
				}
				rc = exitCode(ws)

				if pid == tempPid {
					if rc != 0 {
						log.Warn(nil, "temp pid ended unexpectedly (rc=%d)", rc)
						return rc, nil
					}
					tempPid = 0
					if err := handshake.Send(childSock, handshake.KindClientReparent, nil); err != nil {
						return 1, err
					}
					continue
				}

				if pid != childPID {
					continue
				}

				initFinished = true
				if rc > 0 && rc < 128 {
					log.Info("client process exit rc=%d", rc)
				} else if rc > 128 && rc < 255 {
					log.Info("child process was terminated by a signal %d", rc-128)
				}
				return rc, nil

			case childSock.Fd():
				msg, err := handshake.Recv(childSock)
				if err != nil {
					return 1, err
				}
				switch msg.Kind {
				case handshake.KindClientPID:
					if len(msg.Payload) != 8 {
						return 1, fmt.Errorf("unexpected data length")
					}
					childPID = int(binary.LittleEndian.Uint64(msg.Payload))
					waitingTicks = 0
				case handshake.KindClientReady:
					if err := cg.Add(childPID); err != nil {
						return 1, err
					}
					if err := handshake.Send(childSock, handshake.KindClientExec, nil); err != nil {
						return 1, err
					}
				default:
					return 1, fmt.Errorf("unexpected message: %s", msg.Kind)
				}
			}
		}
	}
}

func exitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 255
	}
}

// sigFillExcept builds a full signal mask with the given signals
// removed, matching sigfillset()+sigdelset() in the original.
func sigFillExcept(exclude ...unix.Signal) unix.Sigset_t {
	var set unix.Sigset_t
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
	for _, sig := range exclude {
		word := (int(sig) - 1) / 64
		bit := uint((int(sig) - 1) % 64)
		set.Val[word] &^= 1 << bit
	}
	return set
}
