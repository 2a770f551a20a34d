package mapreduce

import (
	"fmt"
	"net"
	"net/rpc"
	"strings"
	"sync"
)

// rpcHandler is the per-connection receiver registered with net/rpc.
// net/rpc requires one registered value per listener in the general
// case, but Signin needs the calling worker's observed host, which
// varies per TCP connection; giving each accepted connection its own
// rpc.Server and handler, capturing RemoteAddr before ServeConn, is
// the idiomatic way to thread that through without a global.
type rpcHandler struct {
	m          *Master
	remoteHost string
}

func (h *rpcHandler) Signin(args *SigninArgs, reply *SigninReply) error {
	id, opts := h.m.handleSignin(args, h.remoteHost)
	reply.WorkerID = id
	reply.Options = opts
	return nil
}

func (h *rpcHandler) Ready(args *ReadyArgs, reply *BoolReply) error {
	reply.OK = h.m.handleReady(args.WorkerID, args.Cookie)
	return nil
}

func (h *rpcHandler) Done(args *DoneArgs, reply *BoolReply) error {
	reply.OK = h.m.handleDone(args.WorkerID, args.Cookie, args.OutputURLs)
	return nil
}

func (h *rpcHandler) Ping(args *PingArgs, reply *BoolReply) error {
	reply.OK = h.m.handlePing(args.WorkerID, args.Cookie)
	return nil
}

func (h *rpcHandler) Whoami(args *WhoamiArgs, reply *WhoamiReply) error {
	reply.Host = h.remoteHost
	return nil
}

// RPCServer accepts worker connections over TCP and dispatches each to
// its own net/rpc server, generalizing the teacher's Unix-socket
// RPCServer to a networked transport (the Signin RPC needs a routable
// host:port, which a Unix socket cannot provide).
type RPCServer struct {
	addr     string
	listener net.Listener

	mu       sync.Mutex
	shutdown bool
}

// NewRPCServer returns a server that will listen on addr (host:port,
// host may be empty to bind all interfaces).
func NewRPCServer(addr string) *RPCServer {
	return &RPCServer{addr: addr}
}

// Start opens the listener and begins accepting connections in the
// background; it returns once the listener is ready.
func (s *RPCServer) Start(m *Master) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mapreduce: listen on %s: %w", s.addr, err)
	}
	s.listener = l
	m.Logger.Info("rpc server listening", "addr", l.Addr().String())

	go s.acceptConnections(m)
	return nil
}

func (s *RPCServer) acceptConnections(m *Master) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shutdown
			s.mu.Unlock()
			if !down {
				m.Logger.Warn("rpc accept error", "error", err)
			}
			return
		}
		go s.handleConnection(m, conn)
	}
}

// handleConnection serves exactly one connection's RPCs, registered
// under the receiver name "Master" so method names match the
// Master.* constants in rpc.go.
func (s *RPCServer) handleConnection(m *Master, conn net.Conn) {
	defer conn.Close()

	host := conn.RemoteAddr().String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, "\n")

	handler := &rpcHandler{m: m, remoteHost: host}
	server := rpc.NewServer()
	if err := server.RegisterName("Master", handler); err != nil {
		m.Logger.Error("rpc register failed", "error", err)
		return
	}
	server.ServeConn(conn)
}

// Addr returns the listener's actual address, useful when addr was
// given as ":0" and the OS picked an ephemeral port.
func (s *RPCServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop closes the listener, ending acceptConnections.
func (s *RPCServer) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
