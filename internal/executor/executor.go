// Package executor implements the build engine (spec §4.D): given a
// resolved build script, decide staleness, spawn the script, service
// its dependency declarations, and atomically publish its output.
package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gup-build/gup/internal/envproto"
	"github.com/gup-build/gup/internal/gupstatus"
	"github.com/gup-build/gup/internal/jobserver"
	"github.com/gup-build/gup/internal/msg"
	"github.com/gup-build/gup/internal/resolve"
	"github.com/gup-build/gup/internal/state"
)

// Result reports what happened to one target.
type Result struct {
	Target    string
	Rebuilt   bool
	UpToDate  bool
	Err       error
	OutputAbs string // final, published output path (== Target)
}

// Executor runs build scripts against a shared Store and Jobserver. One
// Executor is owned by the driver for its whole lifetime.
type Executor struct {
	store   *state.Store
	js      *jobserver.Jobserver
	rpcAddr string

	// checksumOf returns the current ChecksumDeclaration for a path that
	// has its own published state record (used by the staleness
	// predicate's "matching checksum" clause, spec §4.B clause 3). The
	// caller (task package) supplies this so executor never needs a
	// reference back to the full task graph.
	checksumOf func(path string) ([]byte, bool)
}

// New creates an Executor sharing store and js with the rest of the
// driver, and rpcAddr as the GUP_RPC_ADDR value spawned scripts receive.
func New(store *state.Store, js *jobserver.Jobserver, rpcAddr string, checksumOf func(string) ([]byte, bool)) *Executor {
	return &Executor{store: store, js: js, rpcAddr: rpcAddr, checksumOf: checksumOf}
}

// Build runs spec §4.D's full flow for one resolved target against a
// staging record the caller has already begun (state.Store.BeginBuild):
// the driver owns BeginBuild/Publish/Abort so it can expose the same
// Staging to RPC handlers servicing the child's declarations while
// Build's script is running (spec §4.D step 6). script, unconditional
// (true for a bare `gup target`, false for `gup -u target`), and the
// ancestor chain already building (for GUP_ANCESTORS cycle detection,
// spec §9) describe the build; Build always leaves staging released
// (Published or Aborted) before returning.
func (e *Executor) Build(ctx context.Context, target string, script *resolve.Script, staging *state.Staging, unconditional bool, ancestors []string) *Result {
	scriptInfo, err := os.Stat(script.Path)
	if err != nil {
		staging.Abort()
		return &Result{Target: target, Err: &gupstatus.Internal{Cause: err}}
	}

	if !unconditional {
		// staging already holds target's exclusive lock, and a shared flock
		// taken through a second descriptor would block against it, so the
		// previous record is read directly rather than through store.Deps.
		var rec *state.Record
		var ok bool
		f, err := os.Open(state.PathFor(target))
		if err == nil {
			rec, ok, err = state.ReadRecord(f)
			f.Close()
		} else if os.IsNotExist(err) {
			err = nil
		}
		if err == nil && ok {
			stale, reason, touched := state.IsStale(rec, script.Path, scriptInfo.ModTime(), filepath.Dir(target), e.checksumOf)
			if !stale {
				msg.Debug("%s: up to date", target)
				if len(touched) > 0 {
					updated := state.TouchMtimes(rec.Entries, filepath.Dir(target), touched)
					for _, en := range updated {
						staging.Append(en)
					}
					staging.Publish()
				} else {
					staging.Abort()
				}
				return &Result{Target: target, UpToDate: true, OutputAbs: target}
			}
			msg.Debug("%s: stale (%s)", target, reason)
		} else if err != nil {
			staging.Abort()
			return &Result{Target: target, Err: &gupstatus.Internal{Cause: err}}
		}
	}

	tok, err := e.js.Acquire()
	if err != nil {
		staging.Abort()
		return &Result{Target: target, Err: &gupstatus.Internal{Cause: err}}
	}
	defer tok.Release()

	staging.Append(state.Builder(script.Path, scriptInfo.ModTime()))

	tmpOut := target + ".gup.tmp"
	os.Remove(tmpOut)

	jsEnv, hasJS := e.js.Env()
	env := envproto.ClearAll(os.Environ())
	env = append(env,
		envproto.Target+"="+target,
		envproto.RPCAddr+"="+e.rpcAddr,
		envproto.Ancestors+"="+envproto.AppendAncestor(ancestors, target),
	)
	if hasJS {
		env = append(env, envproto.Jobserver+"="+jsEnv)
	}
	if mf := e.js.Makeflags(); mf != "" {
		env = append(env, envproto.Makeflags+"="+mf)
	}

	cmd := exec.CommandContext(ctx, script.Path, tmpOut, script.RelTarget, filepath.Base(target))
	cmd.Dir = script.BaseDir
	cmd.Env = env
	cmd.Stdout = &msg.IndentWriter{Indent: "  ", W: os.Stderr}
	cmd.Stderr = &msg.IndentWriter{Indent: "  ", W: os.Stderr}

	msg.Verbose("building %s", target)
	runErr := cmd.Run()

	if runErr != nil {
		os.Remove(tmpOut)
		staging.Abort()
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if exitErr.ExitCode() == gupstatus.SafeCode {
				return &Result{Target: target, Err: &gupstatus.SafeError{}}
			}
			return &Result{Target: target, Err: &gupstatus.TargetFailed{Target: target, Code: exitErr.ExitCode()}}
		}
		return &Result{Target: target, Err: &gupstatus.Internal{Cause: runErr}}
	}

	if _, err := os.Stat(tmpOut); err == nil {
		if err := os.Rename(tmpOut, target); err != nil {
			staging.Abort()
			return &Result{Target: target, Err: &gupstatus.Internal{Cause: err}}
		}
	} else if _, statErr := os.Stat(target); statErr != nil {
		// Script wrote nothing and no prior output exists: not a failure
		// per se, but there is nothing to publish against. Treat as
		// success with an absent output (spec §4.D step 7 "the script
		// chose not to regenerate" applies only when T already existed).
	}

	staging.Publish()
	return &Result{Target: target, Rebuilt: true, OutputAbs: target}
}
