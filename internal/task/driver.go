// Package task implements the task graph driver (spec §4.F): it expands
// requested targets into Tasks, submits them to the executor bounded by
// the jobserver, memoizes each target to exactly one build per process
// (spec §8 scenario 4, "counter runs exactly once"), and propagates
// FileDependency entries from a finished child task into its parent's
// in-progress record. It is also the rpcshim.Driver: nested gup
// invocations reach all of this through Update/IfCreate/Always/Contents.
package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gup-build/gup/internal/envproto"
	"github.com/gup-build/gup/internal/executor"
	"github.com/gup-build/gup/internal/gupstatus"
	"github.com/gup-build/gup/internal/jobserver"
	"github.com/gup-build/gup/internal/msg"
	"github.com/gup-build/gup/internal/resolve"
	"github.com/gup-build/gup/internal/state"
)

// Driver owns the process-wide build state for one top-level gup
// invocation: the state store (and its lock table), the jobserver, the
// executor, and the memo table ensuring each target builds at most once.
type Driver struct {
	store *state.Store
	js    *jobserver.Jobserver
	exec  *executor.Executor

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	staging map[string]*state.Staging // targets currently mid-build, for RPC handlers to append to
}

type taskEntry struct {
	once   sync.Once
	result *executor.Result
}

// New creates a Driver. rpcAddr is the value this driver's own RPC
// listener is bound to (spec's GUP_RPC_ADDR), passed through to the
// executor so it can hand it to spawned build scripts.
func New(js *jobserver.Jobserver, rpcAddr string) *Driver {
	d := &Driver{
		store:   state.NewStore(),
		js:      js,
		tasks:   make(map[string]*taskEntry),
		staging: make(map[string]*state.Staging),
	}
	d.exec = executor.New(d.store, js, rpcAddr, d.checksumOf)
	return d
}

func (d *Driver) checksumOf(path string) ([]byte, bool) {
	rec, ok, err := d.store.Deps(path)
	if err != nil || !ok {
		return nil, false
	}
	return rec.ChecksumDeclaration()
}

// BuildAll is the entry point for a top-level `gup [-u] target…`
// invocation: it runs every target concurrently, bounded by the
// jobserver's locally-advertised capacity, and does not cancel siblings
// on a failure (spec §4.F "does not cancel peers"; §8 scenario 5).
func (d *Driver) BuildAll(ctx context.Context, targets []string, unconditional bool) error {
	return d.updateMany(ctx, "", targets, unconditional, nil)
}

// Update is the rpcshim.Driver method backing `gup -u <path>…` and bare
// `gup <path>…` invoked from inside a running build script.
func (d *Driver) Update(parent string, targets []string, unconditional bool, ancestors []string) error {
	return d.updateMany(context.Background(), parent, targets, unconditional, ancestors)
}

func (d *Driver) updateMany(ctx context.Context, parent string, targets []string, unconditional bool, ancestors []string) error {
	var g errgroup.Group
	if n := d.js.Capacity(); n > 0 {
		g.SetLimit(n)
	}

	abs := make([]string, len(targets))
	for i, t := range targets {
		a, err := filepath.Abs(t)
		if err != nil {
			return &gupstatus.Internal{Cause: err}
		}
		abs[i] = a
	}

	for _, target := range abs {
		target := target
		if envproto.Contains(ancestors, target) {
			return &gupstatus.Internal{Cause: fmt.Errorf("cyclic gup invocation on %s", target)}
		}
		g.Go(func() error {
			res := d.runOnce(ctx, target, unconditional, ancestors)
			if parent != "" {
				d.recordFileDependency(parent, res)
			}
			return res.Err
		})
	}

	return g.Wait()
}

// runOnce builds target at most once for this Driver's entire lifetime,
// regardless of how many sibling tasks request it concurrently.
func (d *Driver) runOnce(ctx context.Context, target string, unconditional bool, ancestors []string) *executor.Result {
	d.mu.Lock()
	te, ok := d.tasks[target]
	if !ok {
		te = &taskEntry{}
		d.tasks[target] = te
	}
	d.mu.Unlock()

	te.once.Do(func() {
		te.result = d.build(ctx, target, unconditional, ancestors)
	})
	return te.result
}

func (d *Driver) build(ctx context.Context, target string, unconditional bool, ancestors []string) *executor.Result {
	script, err := resolve.Resolve(target)
	if err != nil {
		if _, isUnbuildable := err.(*gupstatus.Unbuildable); isUnbuildable && !unconditional {
			if st, statErr := os.Stat(target); statErr == nil && !st.IsDir() {
				msg.Debug("%s: up to date (existing source, no script)", target)
				return &executor.Result{Target: target, UpToDate: true, OutputAbs: target}
			}
		}
		return &executor.Result{Target: target, Err: err}
	}

	staging, err := d.store.BeginBuild(target)
	if err != nil {
		return &executor.Result{Target: target, Err: &gupstatus.Internal{Cause: err}}
	}

	d.mu.Lock()
	d.staging[target] = staging
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.staging, target)
		d.mu.Unlock()
	}()

	return d.exec.Build(ctx, target, script, staging, unconditional, ancestors)
}

// recordFileDependency appends a FileDependency for res.Target to
// parent's in-progress staging record, if parent is currently building
// (spec §4.D child protocol: "record each as a FileDependency of the
// current target"). Silently does nothing if parent isn't (or is no
// longer) mid-build, or if res failed: a failed dependency never gets
// recorded, its failure propagates through res.Err/g.Wait() instead.
func (d *Driver) recordFileDependency(parent string, res *executor.Result) {
	if res.Err != nil {
		return
	}
	d.mu.Lock()
	staging, ok := d.staging[parent]
	d.mu.Unlock()
	if !ok {
		return
	}

	relPath := res.Target
	if parentDir := filepath.Dir(parent); parentDir != "" {
		if rel, err := filepath.Rel(parentDir, res.Target); err == nil {
			relPath = rel
		}
	}

	var mtime time.Time
	if st, err := os.Stat(res.Target); err == nil {
		mtime = st.ModTime()
	}

	var checksum []byte
	if rec, ok, err := d.store.Deps(res.Target); err == nil && ok {
		checksum, _ = rec.ChecksumDeclaration()
	}

	staging.Append(state.File(relPath, mtime, checksum))
}

// IfCreate is the rpcshim.Driver method backing `gup --ifcreate <path>`.
func (d *Driver) IfCreate(parent, path string) error {
	if parent == "" {
		return nil
	}
	d.mu.Lock()
	staging, ok := d.staging[parent]
	d.mu.Unlock()
	if !ok {
		return &gupstatus.Internal{Cause: fmt.Errorf("--ifcreate: %s is not currently building", parent)}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &gupstatus.Internal{Cause: err}
	}
	rel := abs
	if r, err := filepath.Rel(filepath.Dir(parent), abs); err == nil {
		rel = r
	}
	staging.Append(state.NeverCreated(rel))
	return nil
}

// Always is the rpcshim.Driver method backing `gup --always`.
func (d *Driver) Always(parent string) error {
	if parent == "" {
		return nil
	}
	d.mu.Lock()
	staging, ok := d.staging[parent]
	d.mu.Unlock()
	if !ok {
		return &gupstatus.Internal{Cause: fmt.Errorf("--always: %s is not currently building", parent)}
	}
	staging.Append(state.Always())
	return nil
}

// Contents is the rpcshim.Driver method backing `gup --contents`.
func (d *Driver) Contents(parent string, checksum []byte) error {
	if parent == "" {
		return nil
	}
	d.mu.Lock()
	staging, ok := d.staging[parent]
	d.mu.Unlock()
	if !ok {
		return &gupstatus.Internal{Cause: fmt.Errorf("--contents: %s is not currently building", parent)}
	}
	staging.Append(state.Checksum(checksum))
	return nil
}

// Close releases the jobserver (in Owned mode, its FIFO handles).
func (d *Driver) Close() error { return d.js.Close() }
