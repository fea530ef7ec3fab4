package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/mytimer/mytimer-go/pkg/buffer"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/metrics"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
)

// ServiceState is the lifecycle position of a Service. A stopped
// service may be started again.
type ServiceState uint8

const (
	StateIdle ServiceState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

var stateNames = [...]string{"IDLE", "STARTING", "RUNNING", "STOPPING", "STOPPED"}

func (s ServiceState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Config configures a Service.
type Config struct {
	// Network is transport.NetworkUnix or transport.NetworkTCP.
	Network string

	// Address is the socket path or host:port to listen on.
	Address string

	// Capacity is the initial timer capacity (default: 1).
	Capacity int

	// BufferSize is the control buffer size in bytes (default: 256).
	BufferSize int

	// Second is the length of one protocol second. Tests shorten it.
	Second time.Duration

	// MaxWaiters limits concurrent subscriptions.
	MaxWaiters int

	// MaxConnections limits concurrent client connections. Zero means
	// unlimited.
	MaxConnections int

	// Logger, ProtocolLogger and Metrics may be nil.
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

// DefaultConfig returns a Config for one timer, a 256-byte control buffer
// and the default unix socket.
func DefaultConfig() Config {
	return Config{
		Network:    transport.NetworkUnix,
		Address:    transport.DefaultSocketPath,
		Capacity:   registry.DefaultCapacity,
		BufferSize: buffer.DefaultCapacity,
		Second:     time.Second,
		MaxWaiters: notify.DefaultMaxWaiters,
	}
}

// EventType says what happened to a client connection.
type EventType uint8

const (
	EventConnected EventType = iota
	EventDisconnected
	// EventSubscribed and EventUnsubscribed track the notification
	// channel.
	EventSubscribed
	EventUnsubscribed
)

var eventNames = [...]string{"CONNECTED", "DISCONNECTED", "SUBSCRIBED", "UNSUBSCRIBED"}

func (e EventType) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "UNKNOWN"
}

// Event is passed to the handler registered with OnEvent.
type Event struct {
	Type   EventType
	ConnID string
	// OwnerID is the client's process ID, when known.
	OwnerID int
}

// EventHandler is called on its own goroutine for each event.
type EventHandler func(Event)
