package supervisor

import (
	"fmt"
	"os"
	"os/exec"
)

// StageFlag, when present as os.Args[1], tells the binary to skip
// normal CLI parsing and run one of the re-exec stages below instead.
// Go cannot safely call raw fork(2) once the runtime has started
// goroutines/threads, so the intermediate-child and container-init
// stages are reached by re-executing the binary against /proc/self/exe
// with a handshake descriptor passed through os/exec's ExtraFiles —
// the same self-reexec-plus-fd-passing idiom the teacher's launch()
// uses for its own shim process, just split across two hops so a
// genuine unshare()-then-fork() happens in between (§4.G process
// topology), which a single clone(2)-via-exec call cannot express.
const StageFlag = "__isolate_stage__"

const (
	StageIntermediate   = "intermediate"
	StageContainerInit  = "containerinit"
	handshakeFDInParent = 3 // first ExtraFile lands at fd 3 in the child
)

// ReexecArgs builds the argv for a self-reexec into stage. specPath
// names a file written by isolatecfg.Save holding the fully resolved
// container spec (config file merged with CLI overrides) so neither
// re-exec'd stage has to recompute it — re-parsing the config file
// alone would silently lose any --cap-add/--uid/etc. overrides given on
// the original command line.
func ReexecArgs(stage, specPath string) ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("os.Executable: %w", err)
	}
	return []string{self, StageFlag, stage, specPath}, nil
}

// spawnReexec starts argv with sockFile inherited as the handshake
// descriptor (fd 3), stdio inherited as-is.
func spawnReexec(argv []string, sockFile *os.File) (*exec.Cmd, error) {
	cmd := &exec.Cmd{
		Path:       argv[0],
		Args:       argv,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		ExtraFiles: []*os.File{sockFile},
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[1], err)
	}
	return cmd, nil
}
