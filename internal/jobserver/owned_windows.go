//go:build windows

package jobserver

import "fmt"

// disableOwned is true on Windows: named-pipe token semaphores and
// MAKEFLAGS jobserver fds are a POSIX-only protocol (spec §4.E, "Windows:
// the jobserver is disabled; all builds are serial"), mirroring the
// teacher's existing per-OS split (gen/vs2022.go is Windows-only; the
// Unix compiler drivers never compile there).
const disableOwned = true

func newOwned(capacity int, runDir string) (*Jobserver, error) {
	return nil, fmt.Errorf("jobserver: owned mode is not supported on Windows")
}
