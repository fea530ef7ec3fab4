package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mytimer/mytimer-go/pkg/command"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/transport"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrServiceGone     = errors.New("service stopped responding")
)

// DefaultRequestTimeout bounds a request when Config leaves it zero.
const DefaultRequestTimeout = 10 * time.Second

// notificationQueue is the number of notifications buffered for the
// caller.
const notificationQueue = 64

// Config configures a Client.
type Config struct {
	// Network is transport.NetworkUnix (default) or transport.NetworkTCP.
	Network string

	// Address is the socket path or host:port of the service.
	Address string

	// OwnerName is the command name recorded with registered timers.
	// Defaults to the base name of the running program.
	OwnerName string

	// OwnerID is the declared process ID. The service prefers the
	// kernel-reported PID on unix sockets. Defaults to os.Getpid().
	OwnerID int

	// RequestTimeout bounds each request (default: 10s).
	RequestTimeout time.Duration

	// Heartbeat enables liveness pings when set.
	Heartbeat *transport.HeartbeatConfig

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger records frames and control messages (optional).
	ProtocolLogger log.Logger
}

// Client talks to the timer service over one connection. Requests may be
// issued concurrently; a single reader goroutine routes responses to their
// callers and queues notifications.
type Client struct {
	config Config
	conn   *transport.ClientConn
	logger *slog.Logger

	nextMsgID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response
	closed    bool

	notifications chan *wire.Notification
	heartbeat     *transport.Heartbeat

	cancel   context.CancelFunc
	readDone chan struct{}

	errMu sync.Mutex
	err   error
}

// Dial connects to the service and starts the reader.
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.Address == "" {
		if config.Network == transport.NetworkTCP {
			config.Address = fmt.Sprintf("localhost:%d", transport.DefaultPort)
		} else {
			config.Address = transport.DefaultSocketPath
		}
	}
	if config.OwnerName == "" {
		config.OwnerName = command.Truncate(filepath.Base(os.Args[0]), command.MaxMessageLen)
	}
	if config.OwnerID == 0 {
		config.OwnerID = os.Getpid()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tc, err := transport.NewClient(transport.ClientConfig{
		Network: config.Network,
		Logger:  config.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}
	conn, err := tc.Connect(ctx, config.Address)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:        config,
		conn:          conn,
		logger:        logger,
		pending:       make(map[uint32]chan *wire.Response),
		notifications: make(chan *wire.Notification, notificationQueue),
		cancel:        cancel,
		readDone:      make(chan struct{}),
	}

	if config.Heartbeat != nil {
		c.heartbeat = transport.NewHeartbeat(*config.Heartbeat, conn.SendPing)
		go c.runHeartbeat(runCtx)
	}
	go c.readLoop()

	logger.Debug("connected", "network", config.Network, "address", config.Address, "conn", conn.ConnID())
	return c, nil
}

// Close ends the connection. Pending requests fail with ErrClientClosed.
func (c *Client) Close() error {
	c.cancel()
	// Best effort; the service may already be gone
	_ = c.conn.SendClose()
	err := c.conn.Close()
	<-c.readDone
	return err
}

// Done returns a channel closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Notifications returns the queue of wake-up notifications. It is closed
// when the connection ends. Only subscribed clients receive any.
func (c *Client) Notifications() <-chan *wire.Notification {
	return c.notifications
}

// Submit sends raw command text.
func (c *Client) Submit(ctx context.Context, text string) (wire.WriteResult, error) {
	var res wire.WriteResult
	resp, err := c.call(ctx, wire.OpWrite, &wire.WritePayload{
		Command:   []byte(text),
		OwnerName: c.config.OwnerName,
		OwnerID:   c.config.OwnerID,
	})
	if err != nil {
		return res, err
	}
	if err := resp.DecodePayload(&res); err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
	}
	return res, nil
}

// Register creates or updates the timer for message. A refused
// registration returns a *wire.StatusError with StatusCapacityExceeded.
func (c *Client) Register(ctx context.Context, seconds uint32, message string) (wire.WriteOutcome, error) {
	if err := command.ValidateMessage(message); err != nil {
		return 0, err
	}
	res, err := c.Submit(ctx, command.Register(seconds, message).String())
	if err != nil {
		return 0, err
	}
	return res.Outcome, nil
}

// SetCapacity sets the maximum number of live timers.
func (c *Client) SetCapacity(ctx context.Context, n uint32) error {
	_, err := c.Submit(ctx, command.SetCapacity(n).String())
	return err
}

// CancelAll cancels every live timer and returns how many were cancelled.
func (c *Client) CancelAll(ctx context.Context) (int, error) {
	res, err := c.Submit(ctx, command.CancelAll().String())
	if err != nil {
		return 0, err
	}
	return int(res.Count), nil
}

// Snapshot reads the service's timer report.
func (c *Client) Snapshot(ctx context.Context) (*wire.ReadResult, error) {
	resp, err := c.call(ctx, wire.OpRead, nil)
	if err != nil {
		return nil, err
	}
	var res wire.ReadResult
	if err := resp.DecodePayload(&res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
	}
	return &res, nil
}

// List returns the (message, seconds) pair of every live timer, parsed
// from the text report.
func (c *Client) List(ctx context.Context) ([]registry.Pair, error) {
	res, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	report, err := registry.ParseReport(res.Text)
	if err != nil {
		return nil, err
	}
	return report.Pairs(), nil
}

// Exists reports whether a timer with message is live.
func (c *Client) Exists(ctx context.Context, message string) (bool, error) {
	res, err := c.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	report, err := registry.ParseReport(res.Text)
	if err != nil {
		return false, err
	}
	return report.Contains(message), nil
}

// Subscribe opts in to wake-ups and returns the waiter ID.
func (c *Client) Subscribe(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, wire.OpSubscribe, &wire.SubscribePayload{OwnerID: c.config.OwnerID})
	if err != nil {
		return 0, err
	}
	var res wire.SubscribeResult
	if err := resp.DecodePayload(&res); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
	}
	return res.WaiterID, nil
}

// Unsubscribe opts out of wake-ups.
func (c *Client) Unsubscribe(ctx context.Context) error {
	_, err := c.call(ctx, wire.OpUnsubscribe, nil)
	return err
}

// WaitFired blocks until the timer for message is no longer live. Every
// notification triggers a snapshot re-read; the kind of the notification
// that observed the timer gone is returned. The client must be
// subscribed.
func (c *Client) WaitFired(ctx context.Context, message string) (wire.EventKind, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case notif, ok := <-c.notifications:
			if !ok {
				if err := c.Err(); err != nil {
					return 0, err
				}
				return 0, ErrClientClosed
			}
			live, err := c.Exists(ctx, message)
			if err != nil {
				return 0, err
			}
			if !live {
				return notif.Kind, nil
			}
			c.logger.Debug("timer still live", "message", message, "event", notif.Kind, "fired", notif.Message)
		}
	}
}

// call sends a request and waits for its response. Error statuses are
// returned as *wire.StatusError.
func (c *Client) call(ctx context.Context, op wire.Operation, payload any) (*wire.Response, error) {
	req, err := wire.NewRequest(c.nextMessageID(), op, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// nextMessageID returns the next non-zero message ID.
func (c *Client) nextMessageID() uint32 {
	for {
		if id := c.nextMsgID.Add(1); id != wire.NotificationMessageID {
			return id
		}
	}
}

func (c *Client) sendRequest(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	respCh := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, c.closedErr()
	}
	c.pending[req.MessageID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrRequestTimeout
	case resp, ok := <-respCh:
		if !ok {
			return nil, c.closedErr()
		}
		return resp, nil
	}
}

// readLoop routes incoming frames until the connection ends.
func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.notifications)

	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			c.shutdown(err)
			return
		}

		typ, err := wire.PeekMessageType(data)
		if err != nil {
			c.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}

		switch typ {
		case wire.MessageTypeControl:
			c.handleControl(data)
		case wire.MessageTypeNotification:
			c.handleNotification(data)
		case wire.MessageTypeExchange:
			c.handleResponse(data)
		default:
			c.logger.Debug("dropping unknown message")
		}
	}
}

func (c *Client) handleControl(data []byte) {
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		return
	}
	switch msg.Type {
	case wire.ControlPong:
		if c.heartbeat != nil {
			c.heartbeat.PongReceived(msg.Sequence)
		}
	case wire.ControlClose:
		c.logger.Debug("service closed the connection")
	}
}

func (c *Client) handleNotification(data []byte) {
	notif, err := wire.DecodeNotification(data)
	if err != nil {
		c.logger.Debug("dropping invalid notification", "error", err)
		return
	}
	select {
	case c.notifications <- notif:
	default:
		// Waiters re-read the snapshot, so a lost wake-up is recovered by
		// the next one
		c.logger.Warn("notification queue full, dropping", "event", notif.Kind, "message", notif.Message)
	}
}

func (c *Client) handleResponse(data []byte) {
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		c.logger.Debug("dropping invalid response", "error", err)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.MessageID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("response without request", "id", resp.MessageID, "error", ErrUnexpectedReply)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (c *Client) runHeartbeat(ctx context.Context) {
	if c.heartbeat.Run(ctx) {
		c.logger.Warn("service not answering pings", "missed", c.heartbeat.Missed())
		c.setErr(ErrServiceGone)
		c.conn.Close()
	}
}

// shutdown fails all pending requests after the connection ended.
func (c *Client) shutdown(err error) {
	c.cancel()
	if !errors.Is(err, transport.ErrConnectionClosed) {
		c.setErr(err)
	}

	c.pendingMu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, err)
	}
	return ErrClientClosed
}

// IsStatus reports whether err is a service error with status.
func IsStatus(err error, status wire.Status) bool {
	var se *wire.StatusError
	return errors.As(err, &se) && se.Status == status
}
