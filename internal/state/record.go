// Package state implements gup's per-target dependency store (spec §3.2,
// §4.B): the ordered entries recorded during a build, their on-disk text
// format, and the staleness predicate that decides whether a target needs
// rebuilding.
package state

import "time"

// Kind distinguishes the five dependency entry shapes spec §3.2 defines.
type Kind int

const (
	KindBuilder Kind = iota
	KindFile
	KindAlways
	KindNeverCreated
	KindChecksum
)

// Entry is one line of a target's dependency record. Only the fields
// relevant to Kind are populated.
type Entry struct {
	Kind Kind

	// BuilderDependency / FileDependency
	Path  string
	Mtime time.Time

	// FileDependency only: the upstream's advertised content checksum at
	// the time this dependency was recorded, if any.
	Checksum []byte

	// NeverCreatedDependency
	// (Path above is reused for the observed-absent path)

	// ChecksumDeclaration: this target's own advertised checksum.
	// (Checksum above is reused)
}

// Builder constructs a BuilderDependency entry (spec §3.2: "the first
// entry is always the BuilderDependency for the script that produced the
// target").
func Builder(scriptPath string, mtime time.Time) Entry {
	return Entry{Kind: KindBuilder, Path: scriptPath, Mtime: mtime}
}

// File constructs a FileDependency entry.
func File(relPath string, mtime time.Time, checksum []byte) Entry {
	return Entry{Kind: KindFile, Path: relPath, Mtime: mtime, Checksum: checksum}
}

// Always constructs an AlwaysDependency entry.
func Always() Entry { return Entry{Kind: KindAlways} }

// NeverCreated constructs a NeverCreatedDependency entry.
func NeverCreated(path string) Entry {
	return Entry{Kind: KindNeverCreated, Path: path}
}

// Checksum constructs a ChecksumDeclaration entry.
func Checksum(sum []byte) Entry {
	return Entry{Kind: KindChecksum, Checksum: sum}
}

// Record is a target's full, parsed dependency state.
type Record struct {
	Entries []Entry
}

// Builder returns the record's first entry, which is always a
// BuilderDependency for a validly-published record, or ok=false if the
// record is empty (shouldn't happen for anything Publish wrote).
func (r *Record) Builder() (Entry, bool) {
	if len(r.Entries) == 0 || r.Entries[0].Kind != KindBuilder {
		return Entry{}, false
	}
	return r.Entries[0], true
}

// ChecksumDeclaration returns the target's own most recently declared
// ChecksumDeclaration, if any (the last one wins, matching append order).
func (r *Record) ChecksumDeclaration() ([]byte, bool) {
	var sum []byte
	found := false
	for _, e := range r.Entries {
		if e.Kind == KindChecksum {
			sum = e.Checksum
			found = true
		}
	}
	return sum, found
}
