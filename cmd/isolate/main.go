// Command isolate builds and runs a sandboxed Linux container from a
// config-file section plus CLI overrides (§6). A single binary plays
// three roles depending on how it's invoked: the normal CLI entry point
// (start/stop/status), and two re-exec'd stages reached only through
// supervisor.ReexecArgs — the intermediate namespace-unshare hop and
// the container-init grand-child that ends in execve.
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/legionus/make-initrd-isolation/internal/cliargs"
	"github.com/legionus/make-initrd-isolation/internal/config"
	"github.com/legionus/make-initrd-isolation/internal/containerinit"
	"github.com/legionus/make-initrd-isolation/internal/handshake"
	"github.com/legionus/make-initrd-isolation/internal/iniconfig"
	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/pidlock"
	"github.com/legionus/make-initrd-isolation/internal/rtlog"
	"github.com/legionus/make-initrd-isolation/internal/supervisor"
)

const version = "1.0"

// reexecHandshakeFD is the descriptor number os/exec's ExtraFiles lands
// the handshake socket at in both re-exec'd stages (§4.G).
const reexecHandshakeFD = 3

func main() {
	if len(os.Args) >= 2 && os.Args[1] == supervisor.StageFlag {
		os.Exit(runStage(os.Args[2:]))
	}
	os.Exit(runCLI(os.Args[1:]))
}

// runStage dispatches the two hidden re-exec stages. argv is
// {stage, specPath}.
func runStage(argv []string) int {
	if len(argv) != 2 {
		fmt.Fprintln(os.Stderr, "isolate: malformed re-exec invocation")
		return 1
	}
	stage, specPath := argv[0], argv[1]

	c, err := isolatecfg.Load(specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isolate: load spec: %v\n", err)
		return 1
	}
	sock := handshake.FDConn(reexecHandshakeFD)

	switch stage {
	case supervisor.StageIntermediate:
		return supervisor.RunIntermediate(c, sock, specPath)

	case supervisor.StageContainerInit:
		log := rtlog.New(os.Stderr, 0).WithRole("init")
		if err := containerinit.Run(log, c, sock); err != nil {
			log.Fatal(1, err, "container init failed")
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "isolate: unknown stage: %s\n", stage)
		return 1
	}
}

func runCLI(argv []string) int {
	opts, err := cliargs.Parse(argv)
	if err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "isolate: %v\n", err)
		return 2
	}

	if opts.Version {
		fmt.Printf("isolate %s\n", version)
		return 0
	}

	name := opts.Positional.Name
	if opts.Name != "" {
		name = opts.Name
	}

	switch opts.Positional.Verb {
	case "status":
		running, err := pidlock.Status(pidfilePathFor(opts, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "isolate: %v\n", err)
			return 1
		}
		if running {
			fmt.Println("container is running")
			return 0
		}
		fmt.Println("container is not running")
		return 1

	case "stop":
		wasRunning, err := pidlock.Stop(pidfilePathFor(opts, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "isolate: %v\n", err)
			return 1
		}
		if !wasRunning {
			fmt.Println("container is not running")
			return 1
		}
		return 0

	case "start":
		return runStart(opts, name)

	default:
		fmt.Fprintf(os.Stderr, "isolate: unknown verb: %s\n", opts.Positional.Verb)
		return 2
	}
}

func runStart(opts *cliargs.Options, name string) int {
	result, err := config.Build(opts.Config, name, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isolate: %v\n", err)
		return 1
	}

	log := rtlog.New(os.Stderr, result.Verbose).WithRole("supervisor")
	if opts.Background {
		log.UseSyslog("isolate")
	}

	if opts.Background {
		if err := daemonize(); err != nil {
			log.Fatal(1, err, "daemonize")
		}
	}

	rc, err := supervisor.Run(log, result.Container, result.PidFile, supervisor.Options{
		Background: opts.Background,
		SyslogTag:  "isolate",
	})
	if err != nil {
		log.Warn(err, "run failed")
	}
	return rc
}

// pidfilePathFor re-derives the pidfile path for stop/status without
// needing the rest of the container spec (those verbs never load the
// root filesystem, devices file, etc.).
func pidfilePathFor(opts *cliargs.Options, name string) string {
	if opts.Pidfile != "" {
		return opts.Pidfile
	}
	pidDir := "/run/isolate"
	if cfg, err := iniconfig.Load(opts.Config); err == nil && cfg.Global.PidDir != "" {
		pidDir = cfg.Global.PidDir
	}
	return fmt.Sprintf("%s/%s.pid", pidDir, name)
}
