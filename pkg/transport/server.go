package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// Listener defaults.
const (
	// NetworkUnix listens on a unix stream socket.
	NetworkUnix = "unix"

	// NetworkTCP listens on TCP.
	NetworkTCP = "tcp"

	// DefaultSocketPath is the default unix socket path.
	DefaultSocketPath = "/tmp/mytimer.sock"

	// DefaultPort is the default TCP port.
	DefaultPort = 7117
)

// Server errors.
var (
	ErrServerRunning      = errors.New("server already running")
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrSocketInUse        = errors.New("socket path in use")
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Network is NetworkUnix (default) or NetworkTCP.
	Network string

	// Address is the socket path or host:port to listen on.
	Address string

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// MaxConnections limits concurrent connections. Zero means unlimited.
	MaxConnections int

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every non-control message.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when an error occurs. conn is nil for listener errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts client connections on a unix socket or TCP.
type Server struct {
	config   ServerConfig
	listener net.Listener

	connsMu sync.RWMutex
	conns   map[*ServerConn]struct{}

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server.
func NewServer(config ServerConfig) (*Server, error) {
	switch config.Network {
	case "":
		config.Network = NetworkUnix
	case NetworkUnix, NetworkTCP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, config.Network)
	}
	if config.Address == "" {
		if config.Network == NetworkUnix {
			config.Address = DefaultSocketPath
		} else {
			config.Address = fmt.Sprintf(":%d", DefaultPort)
		}
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	if s.config.Network == NetworkUnix {
		if err := removeStaleSocket(s.config.Address); err != nil {
			return err
		}
	}

	listener, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops accepting, closes all connections and waits for their
// handlers to return.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	// Closing a unix listener also removes its socket file
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Network returns the listener network.
func (s *Server) Network() string {
	return s.config.Network
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(nil, fmt.Errorf("accept error: %w", err))
			continue
		}

		if limit := s.config.MaxConnections; limit > 0 && s.ConnectionCount() >= limit {
			conn.Close()
			s.reportError(nil, fmt.Errorf("connection limit %d reached", limit))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs one connection from accept to close. OnConnect
// and OnDisconnect bracket the read loop on the connection's goroutine.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c := s.newConn(conn)
	s.track(c, true)
	logConnState(s.config.Logger, c.connID, log.RoleService, c.remoteAddr, "", "CONNECTED", "")
	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	c.readLoop()
	c.Close()

	s.track(c, false)
	logConnState(s.config.Logger, c.connID, log.RoleService, c.remoteAddr, "CONNECTED", "DISCONNECTED", "")
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) newConn(conn net.Conn) *ServerConn {
	c := &ServerConn{
		conn:       conn,
		framer:     NewFramer(conn, s.config.MaxMessageSize),
		server:     s,
		remoteAddr: addrString(conn.RemoteAddr()),
		connID:     uuid.NewString(),
	}
	c.ctx, c.cancel = context.WithCancel(s.ctx)
	c.peerPID, c.hasPeerPID = peerPID(conn)
	if s.config.Logger != nil {
		c.framer.SetLogger(s.config.Logger, c.connID, log.RoleService)
	}
	return c
}

func (s *Server) track(c *ServerConn, live bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if live {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

// ServerConn represents a client connection to the server.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	remoteAddr string
	connID     string

	// Kernel-reported, unix sockets on Linux only.
	peerPID    int
	hasPeerPID bool
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() string {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// PeerPID returns the client's process ID as reported by the kernel.
func (c *ServerConn) PeerPID() (int, bool) {
	return c.peerPID, c.hasPeerPID
}

// Context returns a context cancelled when the connection closes.
func (c *ServerConn) Context() context.Context {
	return c.ctx
}

// Send sends a message to the client.
func (c *ServerConn) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// readLoop dispatches frames until the peer goes away or the connection
// is closed locally. Errors after a local close are not reported.
func (c *ServerConn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.server.reportError(c, err)
			}
			return
		}

		if msg, ok := DecodeControlMessage(data); ok {
			if c.handleControlMessage(msg) {
				return
			}
			continue
		}

		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

// handleControlMessage answers pings and acknowledges close. It returns
// true when the connection should close.
func (c *ServerConn) handleControlMessage(msg *wire.ControlMessage) bool {
	logControl(c.server.config.Logger, c.connID, log.RoleService, msg, log.DirectionIn)
	switch msg.Type {
	case wire.ControlPing:
		c.reply(&wire.ControlMessage{Type: wire.ControlPong, Sequence: msg.Sequence})
	case wire.ControlClose:
		c.reply(&wire.ControlMessage{Type: wire.ControlClose})
		return true
	}
	return false
}

// reply sends a control message on a best-effort basis.
func (c *ServerConn) reply(msg *wire.ControlMessage) {
	data, err := wire.EncodeControlMessage(msg)
	if err != nil || c.Send(data) != nil {
		return
	}
	logControl(c.server.config.Logger, c.connID, log.RoleService, msg, log.DirectionOut)
}

// removeStaleSocket removes a socket file left by a previous run. It
// refuses to remove a socket another server still answers on, or a path
// that is not a socket.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s is not a socket", ErrSocketInUse, path)
	}
	if c, err := net.Dial(NetworkUnix, path); err == nil {
		c.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	return os.Remove(path)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
