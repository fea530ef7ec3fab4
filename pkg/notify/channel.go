package notify

import (
	"errors"
	"sync"
	"time"
)

// Channel errors.
var (
	ErrClosed            = errors.New("notification channel closed")
	ErrResourceExhausted = errors.New("maximum waiters reached")
)

// Default channel limits.
const (
	DefaultMaxWaiters = 256
	DefaultQueueSize  = 4
)

// EventKind identifies what happened to a timer.
type EventKind uint8

const (
	// EventFired indicates a timer reached its deadline.
	EventFired EventKind = iota + 1

	// EventCancelled indicates a timer was torn down by a cancel-all.
	EventCancelled
)

// String returns a human-readable event kind name.
func (k EventKind) String() string {
	switch k {
	case EventFired:
		return "FIRED"
	case EventCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Event is a wake-up delivered to waiters.
type Event struct {
	Kind EventKind

	// Message of the timer concerned. Informational only; clients confirm
	// state with a snapshot.
	Message string

	// Timestamp is when the event was generated.
	Timestamp time.Time
}

// Config holds notification channel configuration.
type Config struct {
	// MaxWaiters is the maximum number of registered waiters.
	MaxWaiters int

	// QueueSize is the number of undelivered events a waiter can hold.
	QueueSize int
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		MaxWaiters: DefaultMaxWaiters,
		QueueSize:  DefaultQueueSize,
	}
}

// Channel fans events out to registered waiters.
type Channel struct {
	mu sync.RWMutex

	config Config

	// Registered waiters by ID
	waiters map[uint64]*Waiter

	lastID uint64
	closed bool
}

// NewChannel creates a channel with default configuration.
func NewChannel() *Channel {
	return NewChannelWithConfig(DefaultConfig())
}

// NewChannelWithConfig creates a channel with custom configuration.
func NewChannelWithConfig(config Config) *Channel {
	if config.MaxWaiters <= 0 {
		config.MaxWaiters = DefaultMaxWaiters
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	return &Channel{
		config:  config,
		waiters: make(map[uint64]*Waiter),
	}
}

// Register adds a waiter for the given owner.
func (c *Channel) Register(ownerID int) (*Waiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if len(c.waiters) >= c.config.MaxWaiters {
		return nil, ErrResourceExhausted
	}

	c.lastID++
	w := newWaiter(c.lastID, ownerID, c.config.QueueSize)
	c.waiters[w.id] = w
	return w, nil
}

// Unregister removes a waiter. Unregistering a waiter that is not
// registered is a no-op.
func (c *Channel) Unregister(w *Waiter) {
	if w == nil {
		return
	}

	c.mu.Lock()
	if c.waiters[w.id] == w {
		delete(c.waiters, w.id)
	}
	c.mu.Unlock()

	w.deactivate()
}

// Publish delivers ev to every registered waiter and returns the number of
// waiters that accepted it.
func (c *Channel) Publish(ev Event) int {
	return c.deliver(ev, func(*Waiter) bool { return true })
}

// NotifyOwner delivers ev to the waiters registered by ownerID and returns
// the number of waiters that accepted it.
func (c *Channel) NotifyOwner(ownerID int, ev Event) int {
	return c.deliver(ev, func(w *Waiter) bool { return w.OwnerID() == ownerID })
}

func (c *Channel) deliver(ev Event, match func(*Waiter) bool) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	delivered := 0
	for _, w := range c.waiters {
		if match(w) && w.offer(ev) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of registered waiters.
func (c *Channel) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.waiters)
}

// Close unregisters every waiter and rejects further registrations.
// It is safe to call Close more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint64]*Waiter)
	c.closed = true
	c.mu.Unlock()

	for _, w := range waiters {
		w.deactivate()
	}
}
