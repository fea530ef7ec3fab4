package client

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Retry delays for DialRetry. The service is local, so retries start fast
// and stay short.
const (
	InitialBackoff    = 50 * time.Millisecond
	MaxBackoff        = 2 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// BackoffConfig customizes retry delays. Zero fields take the defaults.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Backoff yields exponentially growing delays with jitter. It is not safe
// for concurrent use.
type Backoff struct {
	config   BackoffConfig
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff starting at cfg.Initial.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{config: cfg, current: cfg.Initial}
}

// Next returns the current delay plus jitter and advances the base delay,
// capped at Max.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	if b.config.Jitter > 0 {
		delay += time.Duration(float64(b.current) * b.config.Jitter * rand.Float64())
	}

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.config.Multiplier), b.config.Max)
	return delay
}

// Current returns the base delay of the next call to Next.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Attempts returns how many delays have been handed out since Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.current = b.config.Initial
	b.attempts = 0
}

// DialRetry dials until it succeeds or ctx ends, sleeping per backoff
// between attempts. Use it to wait for a service that is still starting.
// The error of the last attempt is returned when ctx ends first.
func DialRetry(ctx context.Context, config Config, backoff BackoffConfig) (*Client, error) {
	b := NewBackoff(backoff)
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for {
		c, err := Dial(ctx, config)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		delay := b.Next()
		logger.Debug("service not reachable, retrying", "address", config.Address, "attempt", b.Attempts(), "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}
