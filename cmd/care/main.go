// Command care is the CLI entry point for the reconciliation engine: it
// loads a script, wires up the effector registry, and runs one of the
// three verbs (check/draft/apply) against a git-backed shadow directory.
//
// A hidden "effector" verb re-invokes the binary as a protocol callee:
// this lets a script name `care effector <prefix>` as an effector's own
// executable without shipping a second binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilnforge/care/internal/careerr"
	"github.com/kilnforge/care/internal/effector"
	"github.com/kilnforge/care/internal/reconcile"
	"github.com/kilnforge/care/internal/registry"
	"github.com/kilnforge/care/internal/scriptfile"
)

// levelTrace sits one step below slog.LevelDebug, selected by a second (or
// later) -d/--debug flag. It exists purely for "-d -d" trace-level
// operator output; nothing in the engine branches on it.
const levelTrace = slog.Level(-8)

const defaultScriptPath = "care.ncl"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// The hidden effector verb is detected by inspecting argv[1] before any
	// normal flag parsing: it never takes --ncl or -d/--debug.
	if os.Args[1] == "effector" {
		if err := effectorMain(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var verb string
	switch os.Args[1] {
	case "check", "c":
		verb = "check"
	case "draft", "d":
		verb = "draft"
	case "apply", "a":
		verb = "apply"
	default:
		usage()
		os.Exit(1)
	}

	scriptPath, debugCount, err := parseVerbArgs(os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(debugCount)
	ctx, stop := signalCancelContext()
	defer stop()

	if err := run(ctx, verb, scriptPath, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  care check|c  [--ncl <path>] [-d|--debug]...")
	fmt.Fprintln(os.Stderr, "  care draft|d  [--ncl <path>] [-d|--debug]...")
	fmt.Fprintln(os.Stderr, "  care apply|a  [--ncl <path>] [-d|--debug]...")
	fmt.Fprintln(os.Stderr, "  care effector <prefix> [--root <dir>]")
}

// parseVerbArgs parses the flags common to check/draft/apply: --ncl and a
// repeatable -d/--debug.
func parseVerbArgs(args []string) (scriptPath string, debugCount int, err error) {
	scriptPath = defaultScriptPath
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--ncl":
			i++
			if i >= len(args) {
				return "", 0, fmt.Errorf("--ncl requires a value")
			}
			scriptPath = args[i]
		case "-d", "--debug":
			debugCount++
		default:
			return "", 0, fmt.Errorf("unknown arg: %s", args[i])
		}
	}
	return scriptPath, debugCount, nil
}

func newLogger(debugCount int) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case debugCount >= 2:
		level = levelTrace
	case debugCount == 1:
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

func run(ctx context.Context, verb, scriptPath string, logger *slog.Logger) error {
	script, err := scriptfile.Load(scriptPath)
	if err != nil {
		return err
	}

	if verb == "draft" {
		// Draft never consults an effector; skip spawning.
		eng := reconcile.New(script, nil, logger)
		return eng.Draft(ctx)
	}

	order := make([]string, 0, len(script.Effectors))
	descriptors := make(map[string]effector.Descriptor, len(script.Effectors))
	for _, d := range script.Effectors {
		order = append(order, d.Prefix)
		descriptors[d.Prefix] = effector.Descriptor{Executable: d.Executable, Args: d.Args}
	}

	reg, err := registry.Init(ctx, order, descriptors, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil {
			logger.Warn("effector shutdown reported an error", "error", cerr)
		}
	}()

	eng := reconcile.New(script, reg, logger)
	id := eng.RunID
	logger.Info("starting run", "verb", verb, "run_id", id, "script", scriptPath)

	switch verb {
	case "check":
		return eng.Check(ctx)
	case "apply":
		return eng.Apply(ctx)
	default:
		return careerr.New(careerr.KindScript, fmt.Sprintf("unhandled verb %q", verb))
	}
}

// signalCancelContext returns a context cancelled on SIGINT/SIGTERM. There
// is no mid-call interruption: this only keeps the engine from starting
// its next unit of work after a Ctrl-C; anything already blocked on a pipe
// read stays blocked until the operator kills the process.
func signalCancelContext() (context.Context, func()) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, cancel
}
