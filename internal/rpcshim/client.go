package rpcshim

import (
	"fmt"
	"net"
	"net/rpc"
	"strings"

	"github.com/gup-build/gup/internal/gupstatus"
)

// Client is a nested gup invocation's handle on the driver that spawned
// it (directly or transitively).
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a driver's listener given the value it placed in
// GUP_RPC_ADDR ("unix:<path>" or "tcp:<addr>").
func Dial(addr string) (*Client, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if !ok {
		return nil, fmt.Errorf("rpcshim: malformed address %q", addr)
	}
	network := scheme
	switch scheme {
	case "unix":
		rest = strings.TrimPrefix(addr, "unix:")
	case "tcp":
		rest = strings.TrimPrefix(addr, "tcp:")
	default:
		return nil, fmt.Errorf("rpcshim: unknown address scheme %q", scheme)
	}
	conn, err := net.Dial(network, rest)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClient(conn)}, nil
}

func (c *Client) Close() error { return c.rpc.Close() }

// RemoteError wraps a declaration failure reported by the driver. Its
// ExitCode lets gupstatus.Resolve propagate the driver's own verdict
// without re-deriving it, and its zero Message (the SafeError case: the
// driver already logged at its own boundary) prints nothing further.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
func (e *RemoteError) ExitCode() int { return e.Code }

// Update asks the driver to build targets (respecting staleness unless
// unconditional) and record each against parent.
func (c *Client) Update(parent string, targets []string, unconditional bool, ancestors []string) error {
	args := &UpdateArgs{Parent: parent, Targets: targets, Unconditional: unconditional, Ancestors: ancestors}
	reply := &UpdateReply{}
	if err := c.rpc.Call("Shim.Update", args, reply); err != nil {
		return &gupstatus.Internal{Cause: err}
	}
	return replyErr(reply.Code, reply.Message)
}

func (c *Client) IfCreate(parent, path string) error {
	args := &IfCreateArgs{Parent: parent, Path: path}
	reply := &Ack{}
	if err := c.rpc.Call("Shim.IfCreate", args, reply); err != nil {
		return &gupstatus.Internal{Cause: err}
	}
	return replyErr(reply.Code, reply.Message)
}

func (c *Client) Always(parent string) error {
	args := &AlwaysArgs{Parent: parent}
	reply := &Ack{}
	if err := c.rpc.Call("Shim.Always", args, reply); err != nil {
		return &gupstatus.Internal{Cause: err}
	}
	return replyErr(reply.Code, reply.Message)
}

func (c *Client) Contents(parent string, checksum []byte) error {
	args := &ContentsArgs{Parent: parent, Checksum: checksum}
	reply := &Ack{}
	if err := c.rpc.Call("Shim.Contents", args, reply); err != nil {
		return &gupstatus.Internal{Cause: err}
	}
	return replyErr(reply.Code, reply.Message)
}

// replyErr turns a reply's (code, message) pair into a RemoteError the
// client process can feed straight to gupstatus.Resolve.
func replyErr(code int, message string) error {
	if code == 0 {
		return nil
	}
	return &RemoteError{Code: code, Message: message}
}
