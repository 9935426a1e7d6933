package rpcshim

import (
	"net"
	"net/rpc"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/gup-build/gup/internal/gupstatus"
)

// Driver is the subset of the task driver's behaviour the RPC server
// forwards declarations to. The driver implements this against its own
// goroutine-pool state; rpcshim never touches a lock table or a state
// file directly.
type Driver interface {
	// Update builds each target (if stale, unless unconditional) and, if
	// parent != "", appends a FileDependency entry to parent's
	// in-progress record for each. ancestors is the chain already being
	// built, for cycle detection (spec §9).
	Update(parent string, targets []string, unconditional bool, ancestors []string) error
	IfCreate(parent, path string) error
	Always(parent string) error
	Contents(parent string, checksum []byte) error
}

// Server hosts the driver-side net/rpc listener a build script's nested
// gup invocations dial into. Bind and Serve are split so a caller can
// learn Addr() (to construct a Driver that needs to know its own
// address before it can spawn anything) before the Driver it will
// forward calls to actually exists.
type Server struct {
	listener net.Listener
	rpc      *rpc.Server
	addr     string
}

// shimService is the net/rpc receiver; its exported methods are the
// four wire calls, each with the (args, *reply) error signature net/rpc
// requires.
type shimService struct {
	driver Driver
}

func (s *shimService) Update(args *UpdateArgs, reply *UpdateReply) error {
	err := s.driver.Update(args.Parent, args.Targets, args.Unconditional, args.Ancestors)
	fillReply(&reply.Code, &reply.Message, err)
	return nil
}

func (s *shimService) IfCreate(args *IfCreateArgs, reply *Ack) error {
	err := s.driver.IfCreate(args.Parent, args.Path)
	fillReply(&reply.Code, &reply.Message, err)
	return nil
}

func (s *shimService) Always(args *AlwaysArgs, reply *Ack) error {
	err := s.driver.Always(args.Parent)
	fillReply(&reply.Code, &reply.Message, err)
	return nil
}

func (s *shimService) Contents(args *ContentsArgs, reply *Ack) error {
	err := s.driver.Contents(args.Parent, args.Checksum)
	fillReply(&reply.Code, &reply.Message, err)
	return nil
}

// fillReply never surfaces err as the net/rpc call error itself: an
// RPC-transport-level error would make the client's rpc.Call fail in a
// way indistinguishable from a dropped connection, so declaration
// failures travel as ordinary reply fields instead, resolved through
// gupstatus on the client side.
func fillReply(code *int, message *string, err error) {
	if err == nil {
		*code = 0
		return
	}
	*code = codeFor(err)
	*message = err.Error()
}

// Bind opens the driver's RPC listener without yet registering a
// Driver: a Unix-domain socket under runDir on every platform net/rpc
// over Unix sockets is available on, TCP loopback on Windows (mirrors
// the jobserver's own per-OS fork, spec §4.E "Windows: ... disabled").
// Call Serve once the Driver (which typically needs Addr() first) is
// ready.
func Bind(runDir string) (*Server, error) {
	ln, addr, err := listen(runDir)
	if err != nil {
		return nil, err
	}
	return &Server{listener: ln, addr: addr}, nil
}

// Serve registers driver and starts accepting connections. Must be
// called exactly once.
func (s *Server) Serve(driver Driver) error {
	rs := rpc.NewServer()
	if err := rs.RegisterName("Shim", &shimService{driver: driver}); err != nil {
		return err
	}
	s.rpc = rs
	go s.acceptLoop()
	return nil
}

// Listen is Bind followed by Serve, for callers (tests) that already
// have their Driver before they need an address.
func Listen(driver Driver, runDir string) (*Server, error) {
	srv, err := Bind(runDir)
	if err != nil {
		return nil, err
	}
	if err := srv.Serve(driver); err != nil {
		srv.Close()
		return nil, err
	}
	return srv, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.rpc.ServeConn(conn)
	}
}

// Addr is the value to place in GUP_RPC_ADDR for spawned build scripts.
func (s *Server) Addr() string { return s.addr }

// Close stops accepting new connections. In-flight ones drain on their
// own since ServeConn returns once its conn is closed by the peer.
func (s *Server) Close() error { return s.listener.Close() }

func listen(runDir string) (net.Listener, string, error) {
	if runtime.GOOS == "windows" {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, "", err
		}
		return ln, "tcp:" + ln.Addr().String(), nil
	}

	sockPath := filepath.Join(runDir, "driver-"+uuid.NewString()+".sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, "", err
	}
	return ln, "unix:" + sockPath, nil
}

// codeFor resolves err through gupstatus exactly as the driver's own
// top-level exit does, so the reply carries the same code a local
// failure would have produced.
func codeFor(err error) int {
	return gupstatus.Resolve(err)
}
