package transport_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mytimer/mytimer-go/pkg/transport"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// socketPath returns a short unix socket path for the test.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mt")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

// startEcho starts a server that echoes every message back.
func startEcho(t *testing.T, network, address string) *transport.Server {
	t.Helper()

	server, err := transport.NewServer(transport.ServerConfig{
		Network: network,
		Address: address,
		OnMessage: func(conn *transport.ServerConn, msg []byte) {
			conn.Send(msg)
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, network, address string) *transport.ClientConn {
	t.Helper()
	client, err := transport.NewClient(transport.ClientConfig{Network: network})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	conn, err := client.Connect(context.Background(), address)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerEcho(t *testing.T) {
	tests := []struct {
		network string
		address func(t *testing.T) string
	}{
		{transport.NetworkUnix, socketPath},
		{transport.NetworkTCP, func(*testing.T) string { return "127.0.0.1:0" }},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			server := startEcho(t, tt.network, tt.address(t))
			conn := dial(t, tt.network, server.Addr().String())

			req, _ := wire.NewRequest(1, wire.OpRead, nil)
			data, _ := wire.EncodeRequest(req)
			if err := conn.Send(data); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			got, err := conn.Receive(2 * time.Second)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
			if string(got) != string(data) {
				t.Errorf("echo mismatch")
			}
		})
	}
}

func TestServerAnswersPing(t *testing.T) {
	server := startEcho(t, transport.NetworkUnix, socketPath(t))
	conn := dial(t, transport.NetworkUnix, server.Addr().String())

	if err := conn.SendPing(42); err != nil {
		t.Fatalf("SendPing failed: %v", err)
	}
	data, err := conn.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	msg, ok := transport.DecodeControlMessage(data)
	if !ok {
		t.Fatal("reply is not a control message")
	}
	if msg.Type != wire.ControlPong || msg.Sequence != 42 {
		t.Errorf("reply = %v/%d, want pong/42", msg.Type, msg.Sequence)
	}
}

func TestServerCloseHandshake(t *testing.T) {
	disconnected := make(chan struct{})
	server, _ := transport.NewServer(transport.ServerConfig{
		Address:      socketPath(t),
		OnDisconnect: func(*transport.ServerConn) { close(disconnected) },
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()

	conn := dial(t, transport.NetworkUnix, server.Addr().String())
	if err := conn.SendClose(); err != nil {
		t.Fatalf("SendClose failed: %v", err)
	}

	data, err := conn.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if msg, ok := transport.DecodeControlMessage(data); !ok || msg.Type != wire.ControlClose {
		t.Errorf("expected close acknowledgment")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestServerConnectionLifecycle(t *testing.T) {
	var (
		mu       sync.Mutex
		conns    []*transport.ServerConn
		connDone = make(chan struct{}, 4)
	)
	server, _ := transport.NewServer(transport.ServerConfig{
		Address: socketPath(t),
		OnConnect: func(c *transport.ServerConn) {
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		},
		OnDisconnect: func(*transport.ServerConn) { connDone <- struct{}{} },
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	c1 := dial(t, transport.NetworkUnix, server.Addr().String())
	dial(t, transport.NetworkUnix, server.Addr().String())

	deadline := time.Now().Add(2 * time.Second)
	for server.ConnectionCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.ConnectionCount() != 2 {
		t.Fatalf("ConnectionCount = %d, want 2", server.ConnectionCount())
	}

	mu.Lock()
	for _, c := range conns {
		if c.ConnID() == "" {
			t.Error("empty ConnID")
		}
		if pid, ok := c.PeerPID(); ok && pid != os.Getpid() {
			t.Errorf("PeerPID = %d, want %d", pid, os.Getpid())
		}
	}
	mu.Unlock()

	c1.Close()
	<-connDone

	server.Stop()
	<-connDone
	if server.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount after Stop = %d", server.ConnectionCount())
	}

	// Socket file removed with the listener
	if _, err := os.Stat(server.Addr().String()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present: %v", err)
	}
}

func TestServerContextCancelledOnClose(t *testing.T) {
	connected := make(chan *transport.ServerConn, 1)
	server, _ := transport.NewServer(transport.ServerConfig{
		Address:   socketPath(t),
		OnConnect: func(c *transport.ServerConn) { connected <- c },
	})
	server.Start(context.Background())
	defer server.Stop()

	client := dial(t, transport.NetworkUnix, server.Addr().String())
	sconn := <-connected
	client.Close()

	select {
	case <-sconn.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection context not cancelled")
	}
	if err := sconn.Send([]byte{1}); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Send after close = %v, want ErrConnectionClosed", err)
	}
}

func TestServerMaxConnections(t *testing.T) {
	server, _ := transport.NewServer(transport.ServerConfig{
		Address:        socketPath(t),
		MaxConnections: 1,
		OnMessage:      func(c *transport.ServerConn, m []byte) { c.Send(m) },
	})
	server.Start(context.Background())
	defer server.Stop()

	first := dial(t, transport.NetworkUnix, server.Addr().String())
	first.Send([]byte{0xa0})
	if _, err := first.Receive(2 * time.Second); err != nil {
		t.Fatalf("first connection not served: %v", err)
	}

	second := dial(t, transport.NetworkUnix, server.Addr().String())
	if _, err := second.Receive(2 * time.Second); err == nil {
		t.Error("second connection should be closed by the server")
	}
}

func TestServerStaleSocket(t *testing.T) {
	path := socketPath(t)

	// A socket file with nobody listening is replaced
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	server := startEcho(t, transport.NetworkUnix, path)

	// A live socket is refused
	other, _ := transport.NewServer(transport.ServerConfig{Address: path})
	if err := other.Start(context.Background()); !errors.Is(err, transport.ErrSocketInUse) {
		t.Errorf("Start on live socket = %v, want ErrSocketInUse", err)
	}
	server.Stop()

	// A regular file is refused
	file := filepath.Join(filepath.Dir(path), "plain")
	os.WriteFile(file, []byte("x"), 0o600)
	other, _ = transport.NewServer(transport.ServerConfig{Address: file})
	if err := other.Start(context.Background()); !errors.Is(err, transport.ErrSocketInUse) {
		t.Errorf("Start on regular file = %v, want ErrSocketInUse", err)
	}
}

func TestNewServerRejectsNetwork(t *testing.T) {
	if _, err := transport.NewServer(transport.ServerConfig{Network: "udp"}); !errors.Is(err, transport.ErrUnsupportedNetwork) {
		t.Errorf("NewServer(udp) = %v, want ErrUnsupportedNetwork", err)
	}
	if _, err := transport.NewClient(transport.ClientConfig{Network: "udp"}); !errors.Is(err, transport.ErrUnsupportedNetwork) {
		t.Errorf("NewClient(udp) = %v, want ErrUnsupportedNetwork", err)
	}
}

func TestClientReceiveTimeoutAndClose(t *testing.T) {
	server := startEcho(t, transport.NetworkUnix, socketPath(t))
	conn := dial(t, transport.NetworkUnix, server.Addr().String())

	_, err := conn.Receive(20 * time.Millisecond)
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("Receive error = %v, want timeout", err)
	}

	conn.Close()
	if err := conn.Send([]byte{1}); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Send after Close = %v", err)
	}
	if _, err := conn.Receive(0); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Receive after Close = %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Done not closed")
	}
}
