// Package jobserver implements the make-compatible token semaphore (spec
// §4.E): a cross-process counting semaphore bounding concurrent build
// scripts, shared with a parent `make` if one is driving us, or exposed to
// anything we spawn.
package jobserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gup-build/gup/internal/envproto"
)

// Jobserver hands out and reclaims tokens. Mode determines how (or
// whether) it talks to a pipe at all.
type Jobserver struct {
	mode     Mode
	readFile *os.File
	writeFd  *os.File
	// env is the value children should see in GUP_JOBSERVER, or "" if the
	// inherited MAKEFLAGS already conveys it and we must not set our own.
	env string
	// makeflags is the (possibly augmented) MAKEFLAGS value to propagate.
	makeflags string
	// capacity is this process's local view of N, used only to size the
	// driver's errgroup worker pool as an optimization; 0 means unknown
	// (Inherited mode, where the pipe alone is the source of truth and the
	// caller should not bound its goroutine count on our say-so).
	capacity int
}

type Mode int

const (
	Serial Mode = iota
	Owned
	Inherited
)

// New decides the mode from capacity and the current environment (spec
// §4.E), and if Owned, creates the backing FIFO.
//
// capacity is the -jN value; 0 or 1 means serial. An inherited
// MAKEFLAGS=--jobserver-fds=R,W (or --jobserver-auth=) always wins,
// regardless of capacity, since the parent make already decided N.
func New(capacity int, runDir string) (*Jobserver, error) {
	if r, w, makeflags, ok := parseInheritedMakeflags(); ok {
		js, err := newInherited(r, w, makeflags)
		if err == nil {
			return js, nil
		}
		// Fall through to owned/serial if the inherited fds turned out to
		// be unusable (e.g. closed by an intermediate shell).
	}

	if disableOwned || capacity <= 1 {
		return &Jobserver{mode: Serial, env: "0", capacity: 1}, nil
	}

	return newOwned(capacity, runDir)
}

// Capacity returns this process's local view of N (0 if unknown, which
// only happens in Inherited mode). It is an optimization hint for sizing
// a worker pool, never the actual concurrency limiter — the pipe is.
func (j *Jobserver) Capacity() int { return j.capacity }

// Env returns the GUP_JOBSERVER value to set on a spawned build script,
// and whether it should be set at all (false in Inherited mode, per spec
// §4.E: "do not advertise GUP_JOBSERVER").
func (j *Jobserver) Env() (string, bool) {
	if j.mode == Inherited {
		return "", false
	}
	return j.env, true
}

// Makeflags returns the MAKEFLAGS value to propagate to children,
// unchanged from whatever we observed (spec §4.E: "propagated unchanged
// so grand-children can also cooperate").
func (j *Jobserver) Makeflags() string { return j.makeflags }

// Token is a held slot; Release must run on every exit path.
type Token struct {
	js *Jobserver
}

// Acquire blocks until a token is available (or returns immediately in
// Serial mode, where there is no protocol — spec §4.E).
func (j *Jobserver) Acquire() (*Token, error) {
	if j.mode == Serial {
		return &Token{js: j}, nil
	}
	buf := make([]byte, 1)
	for {
		n, err := j.readFile.Read(buf)
		if n == 1 {
			return &Token{js: j}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("jobserver: read token: %w", err)
		}
	}
}

// Release returns the token. The process's own implicitly-held initial
// token (spec §4.E "the invoking process implicitly holds one") is never
// passed through Acquire/Release — callers only ever hold tokens obtained
// from Acquire.
func (t *Token) Release() error {
	if t.js.mode == Serial {
		return nil
	}
	_, err := t.js.writeFd.Write([]byte{'+'})
	return err
}

// Close releases jobserver resources (the FIFO's read and write handles,
// in Owned mode).
func (j *Jobserver) Close() error {
	if j.mode != Owned {
		return nil
	}
	var err error
	if j.readFile != nil {
		err = j.readFile.Close()
	}
	if j.writeFd != nil {
		if werr := j.writeFd.Close(); err == nil {
			err = werr
		}
	}
	return err
}

func parseInheritedMakeflags() (readPath, writePath, raw string, ok bool) {
	raw = os.Getenv(envproto.Makeflags)
	if raw == "" {
		return "", "", "", false
	}
	for _, field := range strings.Fields(raw) {
		if v, found := strings.CutPrefix(field, "--jobserver-fds="); found {
			parts := strings.SplitN(v, ",", 2)
			if len(parts) == 2 {
				return parts[0], parts[1], raw, true
			}
		}
		if v, found := strings.CutPrefix(field, "--jobserver-auth="); found {
			parts := strings.SplitN(v, ",", 2)
			if len(parts) == 2 {
				return parts[0], parts[1], raw, true
			}
		}
	}
	return "", "", raw, false
}

func newInherited(readSpec, writeSpec, makeflags string) (*Jobserver, error) {
	rf, err := openInheritedEnd(readSpec, false)
	if err != nil {
		return nil, err
	}
	wf, err := openInheritedEnd(writeSpec, true)
	if err != nil {
		rf.Close()
		return nil, err
	}
	return &Jobserver{
		mode:      Inherited,
		readFile:  rf,
		writeFd:   wf,
		makeflags: makeflags,
	}, nil
}

// openInheritedEnd opens a jobserver endpoint given either a bare
// descriptor number (what GNU make passes on the same process tree) or a
// FIFO path (what a nested gup driver passes on, spec's "FIFO path pair").
func openInheritedEnd(spec string, write bool) (*os.File, error) {
	if fd, err := strconv.Atoi(spec); err == nil {
		return os.NewFile(uintptr(fd), "jobserver"), nil
	}
	flag := os.O_RDONLY
	if write {
		flag = os.O_WRONLY
	}
	return os.OpenFile(spec, flag, 0)
}
