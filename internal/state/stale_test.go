package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func statMtime(t *testing.T, path string) time.Time {
	t.Helper()
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return st.ModTime()
}

func TestIsStaleNoRecord(t *testing.T) {
	stale, reason, _ := IsStale(&Record{}, "/proj/default.gup", time.Now(), "/proj", nil)
	if !stale || reason != ReasonBuilderChanged {
		t.Errorf("got stale=%v reason=%q, want true/%q", stale, reason, ReasonBuilderChanged)
	}
}

func TestIsStaleBuilderScriptChanged(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "default.gup")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	mtime := statMtime(t, script)

	rec := &Record{Entries: []Entry{Builder(script, mtime)}}
	stale, reason, _ := IsStale(rec, script, mtime, dir, nil)
	if stale {
		t.Fatalf("expected fresh, got stale (%q)", reason)
	}

	// Different builder path entirely.
	stale, reason, _ = IsStale(rec, filepath.Join(dir, "other.gup"), mtime, dir, nil)
	if !stale || reason != ReasonBuilderChanged {
		t.Errorf("got stale=%v reason=%q, want true/%q", stale, reason, ReasonBuilderChanged)
	}

	// Same path, but the script's mtime moved (content changed).
	later := mtime.Add(time.Second)
	if err := os.Chtimes(script, later, later); err != nil {
		t.Fatal(err)
	}
	stale, reason, _ = IsStale(rec, script, mtime, dir, nil)
	if !stale || reason != ReasonBuilderChanged {
		t.Errorf("got stale=%v reason=%q after touching script, want true/%q", stale, reason, ReasonBuilderChanged)
	}
}

func TestIsStaleFileDependencyMtimeChanged(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "default.gup")
	os.WriteFile(script, []byte("#!/bin/sh\n"), 0755)
	scriptMtime := statMtime(t, script)

	dep := filepath.Join(dir, "input.txt")
	os.WriteFile(dep, []byte("v1"), 0644)
	depMtime := statMtime(t, dep)

	rec := &Record{Entries: []Entry{
		Builder(script, scriptMtime),
		File("input.txt", depMtime, nil),
	}}

	stale, _, _ := IsStale(rec, script, scriptMtime, dir, nil)
	if stale {
		t.Fatal("expected fresh before touching the dependency")
	}

	time.Sleep(10 * time.Millisecond)
	os.WriteFile(dep, []byte("v2"), 0644)

	stale, reason, _ := IsStale(rec, script, scriptMtime, dir, nil)
	if !stale || reason != ReasonFileChanged {
		t.Errorf("got stale=%v reason=%q, want true/%q", stale, reason, ReasonFileChanged)
	}
}

func TestIsStaleMatchingChecksumSurvivesMtimeTouch(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "default.gup")
	os.WriteFile(script, []byte("#!/bin/sh\n"), 0755)
	scriptMtime := statMtime(t, script)

	dep := filepath.Join(dir, "input.txt")
	os.WriteFile(dep, []byte("same content"), 0644)
	oldMtime := statMtime(t, dep)

	rec := &Record{Entries: []Entry{
		Builder(script, scriptMtime),
		File("input.txt", oldMtime, []byte("checksum-v1")),
	}}

	// Re-stamp the file (mtime moves) without changing the upstream's
	// advertised checksum, simulating a touch with no real content change.
	time.Sleep(10 * time.Millisecond)
	os.Chtimes(dep, time.Now(), time.Now())

	upstreamChecksum := func(path string) ([]byte, bool) { return []byte("checksum-v1"), true }

	stale, reason, touched := IsStale(rec, script, scriptMtime, dir, upstreamChecksum)
	if stale {
		t.Fatalf("expected fresh on matching checksum, got stale (%q)", reason)
	}
	if len(touched) != 1 || touched[0] != 1 {
		t.Errorf("expected index 1 flagged for mtime touch-up, got %v", touched)
	}
}

func TestIsStaleAlways(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "default.gup")
	os.WriteFile(script, []byte("#!/bin/sh\n"), 0755)
	scriptMtime := statMtime(t, script)

	rec := &Record{Entries: []Entry{Builder(script, scriptMtime), Always()}}
	stale, reason, _ := IsStale(rec, script, scriptMtime, dir, nil)
	if !stale || reason != ReasonAlways {
		t.Errorf("got stale=%v reason=%q, want true/%q", stale, reason, ReasonAlways)
	}
}

func TestIsStaleNeverCreatedNowExists(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "default.gup")
	os.WriteFile(script, []byte("#!/bin/sh\n"), 0755)
	scriptMtime := statMtime(t, script)

	rec := &Record{Entries: []Entry{Builder(script, scriptMtime), NeverCreated("maybe.txt")}}

	stale, _, _ := IsStale(rec, script, scriptMtime, dir, nil)
	if stale {
		t.Fatal("expected fresh while maybe.txt is still absent")
	}

	os.WriteFile(filepath.Join(dir, "maybe.txt"), []byte("x"), 0644)

	stale, reason, _ := IsStale(rec, script, scriptMtime, dir, nil)
	if !stale || reason != ReasonNowExists {
		t.Errorf("got stale=%v reason=%q, want true/%q", stale, reason, ReasonNowExists)
	}
}

func TestTouchMtimes(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "input.txt")
	os.WriteFile(dep, []byte("x"), 0644)
	newMtime := statMtime(t, dep)

	entries := []Entry{
		Builder("/proj/default.gup", time.Unix(0, 0)),
		File("input.txt", time.Unix(0, 0), []byte("sum")),
	}
	out := TouchMtimes(entries, dir, []int{1})

	if !out[1].Mtime.Equal(newMtime) {
		t.Errorf("touched mtime = %v, want %v", out[1].Mtime, newMtime)
	}
	if !entries[1].Mtime.Equal(time.Unix(0, 0)) {
		t.Error("TouchMtimes must not mutate the original slice")
	}
}
