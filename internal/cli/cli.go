// Package cli implements gup's command-line surface (spec §6.1): a
// single cobra command whose behaviour forks in two directions
// depending on whether GUP_RPC_ADDR is present in the environment (a
// nested invocation from inside a running build script, which becomes
// an rpcshim.Client) or absent (a top-level invocation, which stands up
// its own driver).
package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gup-build/gup/internal/config"
	"github.com/gup-build/gup/internal/envproto"
	"github.com/gup-build/gup/internal/gupstatus"
	"github.com/gup-build/gup/internal/jobserver"
	"github.com/gup-build/gup/internal/msg"
	"github.com/gup-build/gup/internal/rpcshim"
	"github.com/gup-build/gup/internal/task"
)

var (
	flagUpdate    bool
	flagJobs      int
	flagIfCreate  string
	flagAlways    bool
	flagContents  bool
	flagVerbosity int
)

var rootCmd = &cobra.Command{
	Use:           "gup [targets...]",
	Short:         "a recursive, user-extensible build tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().BoolVarP(&flagUpdate, "update", "u", false, "build each target only if stale")
	rootCmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "number of build scripts to run concurrently (0: use config default)")
	rootCmd.Flags().StringVar(&flagIfCreate, "ifcreate", "", "inside a build: declare dependency on the non-existence of <path>")
	rootCmd.Flags().BoolVar(&flagAlways, "always", false, "inside a build: mark the current target as always stale")
	rootCmd.Flags().BoolVar(&flagContents, "contents", false, "inside a build: record stdin's digest as the current target's checksum")
	rootCmd.Flags().CountVarP(&flagVerbosity, "verbose", "v", "increase verbosity (-v, -vv)")
}

// Run executes gup and returns the process exit code; it never calls
// os.Exit itself so main can flush/cleanup around it.
func Run(args []string) int {
	lastExitCode = 0
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		// Cobra-level failures (bad flags) and runRoot's setup failures
		// (path, jobserver, listener errors, returned unlogged) reach here.
		// Build outcomes are logged through msg with lastExitCode set and
		// runRoot returning nil, so this branch never double-logs them.
		msg.Error("%v", err)
		return 1
	}
	return lastExitCode
}

// lastExitCode is set by runRoot's branches since cobra's RunE only
// gives us an error, not a code, and spec §7 distinguishes 1 (internal)
// from 2 (build failure).
var lastExitCode int

func runRoot(cmd *cobra.Command, args []string) error {
	switch {
	case flagVerbosity >= 2:
		msg.SetLevel(msg.Debug)
	case flagVerbosity == 1:
		msg.SetLevel(msg.Verbose)
	}

	if addr := os.Getenv(envproto.RPCAddr); addr != "" {
		return runClient(addr, args)
	}
	return runDriver(args)
}

// runClient forwards this invocation to whichever driver process spawned
// us, per the architecture decision in SPEC_FULL.md. The driver resolves
// every path it is handed against its own (top-level) cwd, so runClient
// must make relative paths absolute against *this* process's cwd — the
// build script's own base directory (executor.go sets cmd.Dir to
// script.BaseDir) — before they ever cross the RPC boundary; otherwise a
// nested `gup -u sibling` invoked from inside a build script elsewhere
// in the tree would silently resolve "sibling" against the driver's
// original directory instead of the script's own.
func runClient(addr string, args []string) error {
	client, err := rpcshim.Dial(addr)
	if err != nil {
		// The driver is unreachable (e.g. its socket was cleaned up
		// already): fall back to acting as our own driver rather than
		// failing outright, matching spec's "fails to dial it" case.
		return runDriver(args)
	}
	defer client.Close()

	parent := os.Getenv(envproto.Target)
	ancestors := envproto.AncestorChain()

	absArgs, err := absPaths(args)
	if err != nil {
		lastExitCode = gupstatus.Resolve(&gupstatus.Internal{Cause: err})
		return err
	}

	var err2 error
	switch {
	case flagIfCreate != "":
		absIfCreate, aerr := filepath.Abs(flagIfCreate)
		if aerr != nil {
			lastExitCode = gupstatus.Resolve(&gupstatus.Internal{Cause: aerr})
			return aerr
		}
		err2 = client.IfCreate(parent, absIfCreate)
	case flagAlways:
		err2 = client.Always(parent)
	case flagContents:
		sum, rerr := checksumReader(os.Stdin)
		if rerr != nil {
			lastExitCode = gupstatus.Resolve(&gupstatus.Internal{Cause: rerr})
			return rerr
		}
		err2 = client.Contents(parent, sum)
	default:
		err2 = client.Update(parent, absArgs, !flagUpdate, ancestors)
	}

	lastExitCode = gupstatus.Resolve(err2)
	if err2 != nil && err2.Error() != "" {
		// A SafeError-shaped failure (empty message) was already logged
		// by the driver at its own boundary; anything else gets logged
		// here, once, at this process's boundary.
		msg.Error("%v", err2)
	}
	if lastExitCode == 2 {
		// The build failure is logged by now, so exit with the safe-error
		// status: the executor running this build script propagates it as a
		// SafeError instead of logging the script's failure again.
		lastExitCode = gupstatus.SafeCode
	}
	return nil
}

// absPaths resolves each of paths against the current process's cwd,
// leaving already-absolute entries untouched.
func absPaths(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// runDriver stands up a fresh jobserver, RPC listener, and task.Driver
// for a top-level invocation (or one that lost its parent driver).
func runDriver(args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		lastExitCode = 1
		return err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		msg.Warn("config: %v", err)
	}

	jobs := flagJobs
	if jobs == 0 {
		jobs = cfg.Jobs
	}

	runDir, err := os.MkdirTemp("", "gup-")
	if err != nil {
		lastExitCode = 1
		return err
	}
	defer os.RemoveAll(runDir)

	js, err := jobserver.New(jobs, runDir)
	if err != nil {
		lastExitCode = 1
		return err
	}
	defer js.Close()

	if flagIfCreate != "" || flagAlways || flagContents {
		// No parent driver and no parent target: these declarations are
		// meaningless at the top level (spec §4.D "a build script that
		// itself lacks a parent target... the dependency-recording branch
		// is simply skipped"), so they are no-ops here.
		return nil
	}

	srv, err := rpcshim.Bind(runDir)
	if err != nil {
		lastExitCode = 1
		return err
	}
	defer srv.Close()

	d := task.New(js, srv.Addr())
	if err := srv.Serve(d); err != nil {
		lastExitCode = 1
		return err
	}

	err = d.BuildAll(context.Background(), args, !flagUpdate)
	lastExitCode = gupstatus.Resolve(err)
	if err != nil && err.Error() != "" {
		msg.Error("%v", err)
	}
	return nil
}
