package client

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytimer/mytimer-go/pkg/service"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond})
	b.config.Jitter = 0

	var got []time.Duration
	for range 5 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}, got)
	assert.Equal(t, 5, b.Attempts())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Current())
	assert.Equal(t, 0, b.Attempts())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Jitter: JitterFactor})
	for range 20 {
		base := b.Current()
		d := b.Next()
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+time.Duration(float64(base)*JitterFactor))
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(BackoffConfig{Multiplier: 0.5, Jitter: -1})
	assert.Equal(t, InitialBackoff, b.Current())
	assert.Equal(t, BackoffMultiplier, b.config.Multiplier)
	assert.Zero(t, b.config.Jitter)
}

func TestDialRetryWaitsForService(t *testing.T) {
	dir, err := os.MkdirTemp("", "mt")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	addr := filepath.Join(dir, "late.sock")

	svc := service.New(service.Config{Address: addr, Second: testUnit, Logger: slog.New(slog.DiscardHandler)})
	go func() {
		time.Sleep(100 * time.Millisecond)
		svc.Start(context.Background())
	}()
	t.Cleanup(func() { svc.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialRetry(ctx, Config{Address: addr}, BackoffConfig{Initial: 10 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Snapshot(ctx)
	assert.NoError(t, err)
}

func TestDialRetryGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := DialRetry(ctx, Config{Address: filepath.Join(t.TempDir(), "none.sock")}, BackoffConfig{Initial: 10 * time.Millisecond})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
