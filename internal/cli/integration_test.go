package cli_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gup-build/gup/internal/state"
)

// buildGup compiles the real cmd/gup binary into a temp directory so this
// test can drive the whole resident-driver + RPC-client architecture
// across two real OS processes, not just in-process against a fakeDriver
// (as rpcshim_test.go does) or against a single invocation of cli.Run (as
// cli_test.go does). Grounded on the compile-a-real-binary-then-exec-it
// idiom used by the pinpoint e2e smoke test in the corpus.
func buildGup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "gup")
	if runtime.GOOS == "windows" {
		out += ".exe"
	}

	modRoot, err := findModRoot()
	if err != nil {
		t.Fatalf("locating module root: %v", err)
	}

	cmd := exec.Command("go", "build", "-o", out, "./cmd/gup")
	cmd.Dir = modRoot
	if combined, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build ./cmd/gup: %v\n%s", err, combined)
	}
	return out
}

// findModRoot walks up from this test file's own directory to the
// nearest go.mod, since t.TempDir() fixtures live elsewhere and the
// build must run from the module whose go.mod declares cmd/gup.
func findModRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

func runGup(t *testing.T, exe, dir string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(exe, args...)
	cmd.Dir = dir

	// A nested build script invokes "gup" by bare name off $PATH (exactly
	// as the fixture scripts below do), so the compiled binary's own
	// directory has to be on PATH for that lookup to find it; it won't be
	// there by default since buildGup puts it in a throwaway t.TempDir().
	env := os.Environ()
	filtered := env[:0]
	for _, kv := range env {
		if kv == "MAKEFLAGS" || len(kv) >= 4 && kv[:4] == "GUP_" {
			continue
		}
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			kv = "PATH=" + filepath.Dir(exe) + string(os.PathListSeparator) + kv[5:]
		}
		filtered = append(filtered, kv)
	}
	cmd.Env = append(filtered, "GUP_IN_TESTS=1", "GUP_COLOR=0")

	out, runErr := cmd.CombinedOutput()
	code := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if runErr != nil {
		t.Fatalf("running gup: %v\n%s", runErr, out)
	}
	return string(out), code
}

func writeExecutable(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\nset -eu\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
}

// TestNestedInvocationResolvesAgainstScriptCwdNotDriverCwd is the
// cross-directory regression test for the bug fixed in runClient: a
// build script running inside a subdirectory, other than the one the
// top-level `gup` invocation was started from, declares a dependency on
// a sibling via a path relative to *its own* directory. Before the fix,
// the nested invocation's RPC client forwarded that relative path
// unresolved, and the driver (still running with its original,
// different, cwd) resolved it against the wrong directory.
func TestNestedInvocationResolvesAgainstScriptCwdNotDriverCwd(t *testing.T) {
	exe := buildGup(t)
	root := t.TempDir()

	// sub/sibling.gup produces a fixed string.
	writeExecutable(t, filepath.Join(root, "sub", "sibling.gup"), `echo -n SIBLING > "$1"`+"\n")

	// sub/parent.gup runs entirely with cwd=sub (executor.go sets
	// cmd.Dir to script.BaseDir), and asks for "sibling" relative to
	// itself — not to root, which is where the top-level invocation
	// below is actually run from.
	writeExecutable(t, filepath.Join(root, "sub", "parent.gup"), `gup -u sibling`+"\n"+`cat sibling > "$1"`+"\n")

	out, code := runGup(t, exe, root, "sub/parent")
	if code != 0 {
		t.Fatalf("gup sub/parent exited %d:\n%s", code, out)
	}

	got, err := os.ReadFile(filepath.Join(root, "sub", "parent"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "SIBLING" {
		t.Fatalf("sub/parent = %q, want %q", got, "SIBLING")
	}

	// The dependency must have been recorded relative to sub/, the
	// parent's own directory, confirming the driver resolved "sibling"
	// against the script's cwd and not its own.
	store := state.NewStore()
	rec, ok, err := store.Deps(filepath.Join(root, "sub", "parent"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("no dependency record published for sub/parent")
	}
	var found bool
	for _, e := range rec.Entries {
		if e.Kind == state.KindFile && e.Path == "sibling" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a FileDependency on %q, entries: %+v", "sibling", rec.Entries)
	}

	// A second `-u` build of sub/parent against the recorded state must
	// also succeed; only its exit status is checked here.
	out2, code2 := runGup(t, exe, root, "-u", "sub/parent")
	if code2 != 0 {
		t.Fatalf("rebuild of sub/parent exited %d:\n%s", code2, out2)
	}
}
