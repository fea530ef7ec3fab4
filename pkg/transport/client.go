package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// ErrConnectionClosed is returned for I/O on a connection closed locally.
var ErrConnectionClosed = errors.New("connection closed")

// DefaultConnectTimeout bounds Connect when the context has no deadline.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig configures a Client. Zero fields take defaults.
type ClientConfig struct {
	// Network is NetworkUnix (default) or NetworkTCP.
	Network        string
	MaxMessageSize uint32
	// ConnectTimeout applies when the context passed to Connect has no
	// deadline.
	ConnectTimeout time.Duration
	Logger         log.Logger
}

// Client dials the timer service.
type Client struct {
	config ClientConfig
}

// NewClient creates a new client.
func NewClient(config ClientConfig) (*Client, error) {
	switch config.Network {
	case "":
		config.Network = NetworkUnix
	case NetworkUnix, NetworkTCP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, config.Network)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	return &Client{config: config}, nil
}

// Connect dials address. The connection outlives ctx.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, c.config.Network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", c.config.Network, address, err)
	}

	cc := &ClientConn{
		conn:    conn,
		framer:  NewFramer(conn, c.config.MaxMessageSize),
		client:  c,
		connID:  uuid.NewString(),
		closeCh: make(chan struct{}),
	}
	if c.config.Logger != nil {
		cc.framer.SetLogger(c.config.Logger, cc.connID, log.RoleClient)
	}
	logConnState(c.config.Logger, cc.connID, log.RoleClient, address, "", "CONNECTED", "")
	return cc, nil
}

// ClientConn represents a connection from client to server.
type ClientConn struct {
	conn    net.Conn
	framer  *Framer
	client  *Client
	connID  string
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex
}

// ConnID identifies the connection in protocol logs.
func (c *ClientConn) ConnID() string { return c.connID }

// LocalAddr returns the local socket address.
func (c *ClientConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the service's address.
func (c *ClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *ClientConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send writes one frame. It is safe for concurrent use.
func (c *ClientConn) Send(data []byte) error {
	if c.closed() {
		return ErrConnectionClosed
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one frame, waiting at most timeout. A zero timeout waits
// indefinitely. A read interrupted by Close returns ErrConnectionClosed.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed() {
		return nil, ErrConnectionClosed
	}
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	data, err := c.framer.ReadFrame()
	if err != nil && c.closed() {
		return nil, ErrConnectionClosed
	}
	return data, err
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		logConnState(c.client.config.Logger, c.connID, log.RoleClient,
			addrString(c.conn.RemoteAddr()), "CONNECTED", "DISCONNECTED", "")
	})
	return err
}

// Done returns a channel closed when the connection is closed.
func (c *ClientConn) Done() <-chan struct{} {
	return c.closeCh
}

// SendPing sends a ping control message.
func (c *ClientConn) SendPing(seq uint32) error {
	return c.sendControl(&wire.ControlMessage{Type: wire.ControlPing, Sequence: seq})
}

// SendClose sends a close control message.
func (c *ClientConn) SendClose() error {
	return c.sendControl(&wire.ControlMessage{Type: wire.ControlClose})
}

func (c *ClientConn) sendControl(msg *wire.ControlMessage) error {
	data, err := wire.EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		return err
	}
	logControl(c.client.config.Logger, c.connID, log.RoleClient, msg, log.DirectionOut)
	return nil
}
