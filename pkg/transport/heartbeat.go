package transport

import (
	"context"
	"sync"
	"time"
)

// Heartbeat defaults.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 15 * time.Second

	// DefaultPongTimeout is the default time a ping may stay unanswered.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the default number of missed pongs before
	// the connection is considered dead.
	DefaultMaxMissedPongs = 3
)

// HeartbeatConfig configures a Heartbeat.
type HeartbeatConfig struct {
	// Interval is the time between pings.
	Interval time.Duration

	// Timeout is how long a ping may stay unanswered.
	Timeout time.Duration

	// MaxMissed is the number of missed pongs before the connection is
	// considered dead.
	MaxMissed int
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:  DefaultPingInterval,
		Timeout:   DefaultPongTimeout,
		MaxMissed: DefaultMaxMissedPongs,
	}
}

// DetectionDelay returns the longest time a dead peer goes unnoticed.
func (c HeartbeatConfig) DetectionDelay() time.Duration {
	return c.Interval*time.Duration(c.MaxMissed) + c.Timeout
}

// Heartbeat pings a peer and detects when it stops answering.
type Heartbeat struct {
	config   HeartbeatConfig
	sendPing func(seq uint32) error

	mu       sync.Mutex
	seq      uint32
	pending  bool
	sentAt   time.Time
	missed   int
	lastPong time.Time
}

// NewHeartbeat creates a heartbeat that sends pings with sendPing.
// Zero config fields take their defaults.
func NewHeartbeat(config HeartbeatConfig, sendPing func(seq uint32) error) *Heartbeat {
	def := DefaultHeartbeatConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxMissed <= 0 {
		config.MaxMissed = def.MaxMissed
	}
	return &Heartbeat{config: config, sendPing: sendPing}
}

// Run pings until ctx is done or the peer is declared dead. It returns
// true if the peer is dead.
func (h *Heartbeat) Run(ctx context.Context) bool {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.ping()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if h.tick() {
				return true
			}
		}
	}
}

// PongReceived records a pong from the peer.
func (h *Heartbeat) PongReceived(seq uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastPong = time.Now()
	// Late pongs for earlier pings are ignored
	if h.pending && seq == h.seq {
		h.pending = false
		h.missed = 0
	}
}

// Missed returns the number of consecutive missed pongs.
func (h *Heartbeat) Missed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.missed
}

// LastPong returns when the last pong arrived.
func (h *Heartbeat) LastPong() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPong
}

// tick accounts for an unanswered ping and sends the next one. It
// returns true when the peer is dead.
func (h *Heartbeat) tick() bool {
	h.mu.Lock()
	if h.pending && time.Since(h.sentAt) >= h.config.Timeout {
		h.pending = false
		h.missed++
		if h.missed >= h.config.MaxMissed {
			h.mu.Unlock()
			return true
		}
	}
	h.mu.Unlock()

	h.ping()
	return false
}

func (h *Heartbeat) ping() {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.pending = true
	h.sentAt = time.Now()
	h.mu.Unlock()

	// A failed send shows up as a missed pong
	_ = h.sendPing(seq)
}
