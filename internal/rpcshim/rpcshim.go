// Package rpcshim implements the gup-to-driver child protocol (spec
// §4.D/§6.2). A running build script is a child OS process of the
// driver; anything it does by invoking the gup binary again (`gup -u`,
// `gup --ifcreate`, `gup --always`, `gup --contents`) is forwarded over
// net/rpc to the one driver process actually holding the state locks and
// jobserver, per the architecture decision recorded in SPEC_FULL.md.
package rpcshim

// UpdateArgs requests that each of Targets be built if stale (or
// unconditionally, when Unconditional is set — a bare `gup path` rather
// than `gup -u path`), then recorded as a FileDependency of Parent.
// Parent is "" for a top-level invocation with no GUP_TARGET: dependency
// recording is then simply skipped, per spec §4.D.
type UpdateArgs struct {
	Parent        string
	Targets       []string
	Unconditional bool
	Ancestors     []string
}

// UpdateReply carries the first error encountered, as text: net/rpc
// cannot transport arbitrary error types across the wire, so the driver
// flattens its gupstatus error to a message plus the exit code the
// client should adopt.
type UpdateReply struct {
	Code    int
	Message string
}

// IfCreateArgs requests a NeverCreatedDependency be recorded against
// Parent for Path.
type IfCreateArgs struct {
	Parent string
	Path   string
}

// AlwaysArgs requests an AlwaysDependency be recorded against Parent.
type AlwaysArgs struct {
	Parent string
}

// ContentsArgs carries a checksum the caller already computed from its
// stdin (the client reads stdin itself; only the digest crosses the
// wire, since net/rpc has no streaming primitive worth reaching for
// here).
type ContentsArgs struct {
	Parent   string
	Checksum []byte
}

// Ack is the common empty-on-success reply for declarations that have
// nothing to report but pass/fail.
type Ack struct {
	Code    int
	Message string
}
