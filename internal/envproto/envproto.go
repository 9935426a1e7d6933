// Package envproto names the environment variables that make up the
// gup-to-gup protocol described in spec §6.2, and the small amount of
// parsing/propagation logic shared by both the driver and the client
// shim.
package envproto

import (
	"os"
	"strings"
)

const (
	// Target is set on a spawned build script (and propagated to any
	// gup invocation it execs) to the absolute path of the target it is
	// building, so a nested declaration knows whose record to extend.
	Target = "GUP_TARGET"

	// RPCAddr carries the driver's RPC listener address to everything it
	// spawns, directly or transitively. Its absence (or an unreachable
	// address) means "I am the driver."
	RPCAddr = "GUP_RPC_ADDR"

	// Jobserver mirrors spec's GUP_JOBSERVER: "0" for serial, otherwise a
	// "readPath:writePath" FIFO pair.
	Jobserver = "GUP_JOBSERVER"

	// Ancestors carries an os.PathListSeparator-joined (':' on Unix) list
	// of target paths currently being
	// built by this process tree, oldest first, used for cycle detection
	// per spec §9.
	Ancestors = "GUP_ANCESTORS"

	Makeflags = "MAKEFLAGS"
	InTests   = "GUP_IN_TESTS"
	Color     = "GUP_COLOR"
)

// ClearAll strips every GUP_-prefixed variable from env (a slice in
// os.Environ() form), per spec §6.2: "Any variable beginning with GUP_ is
// cleared before spawning the very first build process in a test run to
// ensure determinism."
func ClearAll(env []string) []string {
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "GUP_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// AncestorChain reads GUP_ANCESTORS from the current environment.
func AncestorChain() []string {
	raw := os.Getenv(Ancestors)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, string(os.PathListSeparator))
}

// AppendAncestor returns the env-var value for a child that is now also
// building target, given the current chain.
func AppendAncestor(chain []string, target string) string {
	return strings.Join(append(append([]string{}, chain...), target), string(os.PathListSeparator))
}

// Contains reports whether target is already present in chain, i.e. the
// build would cycle back onto itself (spec §9 "cyclic invocation risk").
func Contains(chain []string, target string) bool {
	for _, t := range chain {
		if t == target {
			return true
		}
	}
	return false
}
