// Package containerinit implements the grand-child process's side of a
// container run (§4.I): the fifteen-step sequence from CLIENT_REPARENT
// to execve that turns a freshly unshared, freshly forked PID 1 into the
// user's program running inside the finished sandbox.
package containerinit

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/legionus/make-initrd-isolation/internal/capset"
	"github.com/legionus/make-initrd-isolation/internal/devicemaker"
	"github.com/legionus/make-initrd-isolation/internal/devtab"
	"github.com/legionus/make-initrd-isolation/internal/environfile"
	"github.com/legionus/make-initrd-isolation/internal/fdsan"
	"github.com/legionus/make-initrd-isolation/internal/handshake"
	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/mapfile"
	"github.com/legionus/make-initrd-isolation/internal/mountexec"
	"github.com/legionus/make-initrd-isolation/internal/netns"
	"github.com/legionus/make-initrd-isolation/internal/rtlog"
	"github.com/legionus/make-initrd-isolation/internal/seccompfilter"
)

// Run executes the grand-child's half of the handshake plus the entire
// sandbox-construction sequence, ending in execve. It returns only on
// error; success replaces the process image.
func Run(log *rtlog.Context, c *isolatecfg.Container, sock io.ReadWriter) error {
	// Step: wait for CLIENT_REPARENT from the Supervisor.
	if err := handshake.Expect(sock, handshake.KindClientReparent); err != nil {
		return err
	}

	// 1. Die with the Supervisor.
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_PDEATHSIG): %w", err)
	}

	// 2. Stdio redirection.
	if c.Input != "" {
		if err := reopenFD(c.Input, 0); err != nil {
			return err
		}
	}
	if c.Output != "" {
		if err := reopenFD(c.Output, 1); err != nil {
			return err
		}
		if err := reopenFD(c.Output, 2); err != nil {
			return err
		}
	}

	// 3. Open (mmap) devices-file, environ-file; open the seccomp policy
	// file too, on the host view, since it's compiled only after chroot.
	var devs, envs *mapfile.File
	var err error

	if c.DevicesFile != "" {
		if devs, err = mapfile.Open(c.DevicesFile, false); err != nil {
			return err
		}
		defer devs.Close()
	}
	if c.EnvironFile != "" {
		if envs, err = mapfile.Open(c.EnvironFile, false); err != nil {
			return err
		}
		defer envs.Close()
	}

	var seccompFile *os.File
	if c.SeccompFile != "" {
		seccompPath, err := seccompfilter.ResolvePath(c.SeccompFile)
		if err != nil {
			return err
		}
		if seccompFile, err = os.Open(seccompPath); err != nil {
			return fmt.Errorf("fopen: %s: %w", seccompPath, err)
		}
		defer seccompFile.Close()
	}

	// 4. Mount namespace setup.
	if c.UnshareFlags&isolatecfg.NSMount != 0 {
		if err := unix.Mount("/", "/", "none", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil && err != unix.EINVAL {
			return fmt.Errorf("mount(MS_PRIVATE): %s: %w", c.Root, err)
		}
		if len(c.Mounts) > 0 {
			if err := mountexec.Apply(log, c.Root, c.Mounts); err != nil {
				return err
			}
		}
	}

	// 5. Device nodes, before chroot.
	if devs != nil {
		entries, err := devtab.Parse(devs)
		if err != nil {
			return err
		}
		if err := devicemaker.Apply(c.Root, entries); err != nil {
			return err
		}
	}

	// 6. Loopback, if net namespace unshared.
	if c.UnshareFlags&isolatecfg.NSNet != 0 {
		if err := netns.BringUpLoopback(); err != nil {
			return err
		}
	}

	// 7. Hostname, nice.
	if c.Hostname != "" {
		if err := unix.Sethostname([]byte(c.Hostname)); err != nil {
			return fmt.Errorf("sethostname: %w", err)
		}
	}
	if c.Nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, c.Nice); err != nil {
			return fmt.Errorf("nice: %d: %w", c.Nice, err)
		}
	}

	// 8. chroot, chdir, setsid.
	if err := unix.Chroot(c.Root); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	log.Debug("chrooted: %s", c.Root)

	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir: %w", err)
	}
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	// 9. Environment.
	var vars [][2]string
	if envs != nil {
		if vars, err = environfile.Parse(envs); err != nil {
			return err
		}
	}
	if err := environfile.Load(vars); err != nil {
		return err
	}

	// 10. CLIENT_READY / CLIENT_EXEC.
	if err := handshake.Send(sock, handshake.KindClientReady, nil); err != nil {
		return err
	}
	if err := handshake.Expect(sock, handshake.KindClientExec); err != nil {
		return err
	}

	// 11. no_new_privs.
	if c.NoNewPrivs {
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
		}
		log.Info("set no new privileges")
	}

	// 12. Capabilities.
	if c.Caps != nil {
		if err := capset.Apply(c.Caps); err != nil {
			return err
		}
	}

	// 13. Seccomp. The policy file was opened on the host view in step 3,
	// before chroot, since its path may not resolve inside c.Root.
	if seccompFile != nil {
		filter, err := seccompfilter.Compile(seccompFile)
		if err != nil {
			return err
		}
		if err := seccompfilter.Apply(filter); err != nil {
			return err
		}
	}

	// 14. Drop to target uid/gid.
	if err := unix.Setregid(c.GID, c.GID); err != nil {
		return fmt.Errorf("setregid: %w", err)
	}
	if err := unix.Setreuid(c.UID, c.UID); err != nil {
		return fmt.Errorf("setreuid: %w", err)
	}

	log.Info("exec: %s", c.Argv[0])

	// 15. cloexec, execve.
	fdsan.MarkCloseOnExec()

	path, err := findExecutable(c.Argv[0])
	if err != nil {
		return err
	}
	if err := unix.Exec(path, c.Argv, os.Environ()); err != nil {
		return fmt.Errorf("execvp: %s: %w", c.Argv[0], err)
	}
	return fmt.Errorf("execvp returned")
}

func reopenFD(filename string, fd int) error {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open: %s: %w", filename, err)
	}
	if int(f.Fd()) != fd {
		if err := unix.Dup2(int(f.Fd()), fd); err != nil {
			return fmt.Errorf("dup2(%d, %d): %w", f.Fd(), fd, err)
		}
		f.Close()
	}
	return nil
}

// findExecutable resolves argv[0] against PATH the way execvp does,
// since unix.Exec (execve) performs no PATH search itself.
func findExecutable(name string) (string, error) {
	if len(name) > 0 && (name[0] == '/' || name[0] == '.') {
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("execvp: %s: %w", name, err)
	}
	return path, nil
}
