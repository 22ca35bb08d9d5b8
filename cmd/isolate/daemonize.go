package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// daemonizedEnv marks a process as already having gone through
// daemonize, so the re-exec'd copy runs the real start logic instead of
// forking again.
const daemonizedEnv = "__ISOLATE_DAEMONIZED__"

// daemonize detaches the current invocation from its controlling
// terminal (§6 "--background"): it re-execs itself in a new session
// with stdio wired to /dev/null, then the original process exits,
// leaving the re-exec'd copy to run supervisor.Run detached. A literal
// fork(2)+exit() double-fork isn't available to a multi-threaded Go
// runtime, so the session break is achieved the same way the two
// container-setup hops are: self re-exec with SysProcAttr.Setsid.
func daemonize() error {
	if os.Getenv(daemonizedEnv) != "" {
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	cmd := &exec.Cmd{
		Path:   self,
		Args:   os.Args,
		Env:    append(os.Environ(), daemonizedEnv+"=1"),
		Stdin:  devnull,
		Stdout: devnull,
		Stderr: devnull,
		SysProcAttr: &syscall.SysProcAttr{
			Setsid: true,
		},
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemonize re-exec: %w", err)
	}

	os.Exit(0)
	return nil
}
