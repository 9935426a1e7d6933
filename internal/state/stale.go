package state

import (
	"bytes"
	"os"
	"path/filepath"
	"time"
)

// Reason documents which clause of the staleness predicate (spec §4.B)
// fired, for -vv diagnostics.
type Reason string

const (
	ReasonNoRecord       Reason = "no state file or unterminated"
	ReasonBuilderChanged Reason = "build script missing or changed"
	ReasonFileChanged    Reason = "a dependency's mtime changed"
	ReasonAlways         Reason = "marked always-stale"
	ReasonNowExists      Reason = "a previously-absent path now exists"
	ReasonFresh          Reason = ""
)

// IsStale applies spec §4.B's five-clause predicate against the record
// previously published for target, given the resolved build script's
// current path. IsStale stats scriptPath itself for the script's current
// mtime; the scriptMtime argument is not consulted.
//
// When a FileDependency's mtime differs but its recorded checksum matches
// the upstream's *current* ChecksumDeclaration, the target is not stale
// and the caller should update the recorded mtime in place (clause 3's
// "matching checksum with differing mtime" case) — touchedMtimes reports
// which dependency indices need that in-place update.
func IsStale(rec *Record, scriptPath string, scriptMtime time.Time, targetDir string, upstreamChecksum func(path string) ([]byte, bool)) (stale bool, reason Reason, touchedMtimes []int) {
	builder, ok := rec.Builder()
	if !ok {
		return true, ReasonBuilderChanged, nil
	}
	if builder.Path != scriptPath {
		return true, ReasonBuilderChanged, nil
	}
	st, err := os.Stat(scriptPath)
	if err != nil || !st.ModTime().Equal(builder.Mtime) {
		return true, ReasonBuilderChanged, nil
	}

	for i, e := range rec.Entries {
		switch e.Kind {
		case KindAlways:
			return true, ReasonAlways, nil
		case KindNeverCreated:
			absPath := e.Path
			if !filepath.IsAbs(absPath) {
				absPath = filepath.Join(targetDir, absPath)
			}
			if _, err := os.Stat(absPath); err == nil {
				return true, ReasonNowExists, nil
			}
		case KindFile:
			absPath := e.Path
			if !filepath.IsAbs(absPath) {
				absPath = filepath.Join(targetDir, absPath)
			}
			st, err := os.Stat(absPath)
			if err != nil {
				return true, ReasonFileChanged, nil
			}
			if st.ModTime().Equal(e.Mtime) {
				continue
			}
			if e.Checksum != nil && upstreamChecksum != nil {
				if cur, ok := upstreamChecksum(absPath); ok && bytes.Equal(cur, e.Checksum) {
					touchedMtimes = append(touchedMtimes, i)
					continue
				}
			}
			return true, ReasonFileChanged, nil
		}
	}

	return false, ReasonFresh, touchedMtimes
}

// TouchMtimes returns a copy of rec.Entries with the mtime of each
// FileDependency at the given indices refreshed to the path's current
// mtime, for the "recorded mtime is then updated" clause of spec §4.B.
func TouchMtimes(entries []Entry, targetDir string, indices []int) []Entry {
	if len(indices) == 0 {
		return entries
	}
	out := append([]Entry(nil), entries...)
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		set[i] = true
	}
	for i := range out {
		if !set[i] {
			continue
		}
		absPath := out[i].Path
		if !filepath.IsAbs(absPath) {
			absPath = filepath.Join(targetDir, absPath)
		}
		if st, err := os.Stat(absPath); err == nil {
			out[i].Mtime = st.ModTime()
		}
	}
	return out
}
