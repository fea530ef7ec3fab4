package mytimer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mytimer/mytimer-go/pkg/client"
	"github.com/mytimer/mytimer-go/pkg/discovery"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/service"
	"github.com/mytimer/mytimer-go/pkg/transport"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

const testUnit = 20 * time.Millisecond

func startService(t *testing.T, config service.Config) *service.Service {
	t.Helper()
	if config.Network == "" {
		dir, err := os.MkdirTemp("", "e2e")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.RemoveAll(dir) })
		config.Address = filepath.Join(dir, "s.sock")
	}
	if config.Second == 0 {
		config.Second = testUnit
	}
	config.Logger = slog.New(slog.DiscardHandler)

	svc := service.New(config)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func dial(t *testing.T, svc *service.Service) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), client.Config{
		Network: svc.Addr().Network(),
		Address: svc.Addr().String(),
	})
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestE2E_TCPRoundTrip registers and waits for a timer over TCP with
// heartbeats enabled.
func TestE2E_TCPRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := startService(t, service.Config{Network: transport.NetworkTCP, Address: "127.0.0.1:0"})

	c, err := client.Dial(ctx, client.Config{
		Network:   transport.NetworkTCP,
		Address:   svc.Addr().String(),
		Heartbeat: &transport.HeartbeatConfig{Interval: 20 * time.Millisecond, Timeout: 200 * time.Millisecond, MaxMissed: 3},
	})
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	outcome, err := c.Register(ctx, 5, "tea")
	if err != nil || outcome != wire.WriteCreated {
		t.Fatalf("Register = %v, %v", outcome, err)
	}

	kind, err := c.WaitFired(ctx, "tea")
	if err != nil {
		t.Fatalf("WaitFired failed: %v", err)
	}
	if kind != wire.EventFired {
		t.Errorf("Expected fired event, got %s", kind)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Connection error after heartbeats: %v", err)
	}
}

// TestE2E_BroadcastToAllWaiters checks that every subscribed client is
// woken once per firing, whoever registered the timer.
func TestE2E_BroadcastToAllWaiters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := startService(t, service.Config{})

	const waiters = 5
	clients := make([]*client.Client, waiters)
	for i := range clients {
		clients[i] = dial(t, svc)
		if _, err := clients[i].Subscribe(ctx); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}

	registrar := dial(t, svc)
	if _, err := registrar.Register(ctx, 2, "bell"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i, c := range clients {
		select {
		case n := <-c.Notifications():
			if n.Kind != wire.EventFired || n.Message != "bell" {
				t.Errorf("Client %d got %s %q", i, n.Kind, n.Message)
			}
		case <-ctx.Done():
			t.Fatalf("Client %d was not woken", i)
		}
	}

	// Exactly one event per firing
	time.Sleep(5 * testUnit)
	for i, c := range clients {
		select {
		case n := <-c.Notifications():
			t.Errorf("Client %d got a second event %s %q", i, n.Kind, n.Message)
		default:
		}
	}
}

// TestE2E_ConcurrentRegistrations races registrations from many clients
// against a small capacity.
func TestE2E_ConcurrentRegistrations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const capacity, clients = 4, 16
	svc := startService(t, service.Config{Capacity: capacity})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		refused int
	)
	for i := range clients {
		c := dial(t, svc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Register(ctx, 500, fmt.Sprintf("timer-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case client.IsStatus(err, wire.StatusCapacityExceeded):
				refused++
			default:
				t.Errorf("Register %d failed: %v", i, err)
			}
		}()
	}
	wg.Wait()

	if created != capacity || refused != clients-capacity {
		t.Errorf("created %d, refused %d; want %d and %d", created, refused, capacity, clients-capacity)
	}
	if n := svc.Registry().Count(); n != capacity {
		t.Errorf("Live timers = %d, want %d", n, capacity)
	}
}

// TestE2E_ProtocolLog follows one timer through the CBOR protocol log.
func TestE2E_ProtocolLog(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "mytimerd.cbor")
	fileLogger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}

	svc := startService(t, service.Config{ProtocolLogger: fileLogger})
	c := dial(t, svc)
	if _, err := c.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := c.Register(ctx, 1, "tea"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := c.WaitFired(ctx, "tea"); err != nil {
		t.Fatalf("WaitFired failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := fileLogger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := log.NewFilteredReader(path, log.Filter{Timer: "tea"})
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	defer reader.Close()

	var actions []log.TimerAction
	var notified bool
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read log: %v", err)
		}
		if ev.Timer != nil {
			actions = append(actions, ev.Timer.Action)
		}
		if ev.Message != nil && ev.Message.Type == log.MessageTypeNotification {
			notified = true
		}
	}

	if len(actions) != 2 || actions[0] != log.TimerCreated || actions[1] != log.TimerFired {
		t.Errorf("Timer actions = %v, want [CREATED FIRED]", actions)
	}
	if !notified {
		t.Error("Expected the notification in the log")
	}
}

// TestE2E_Discovery advertises a TCP service over mDNS and finds it.
func TestE2E_Discovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := startService(t, service.Config{Network: transport.NetworkTCP, Address: "127.0.0.1:0"})
	port := svc.Addr().(*net.TCPAddr).Port

	instance := fmt.Sprintf("mytimer-e2e-%d", os.Getpid())
	advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{})
	if err := advertiser.Advertise(ctx, discovery.ServiceInfo{Instance: instance, Port: port, Capacity: 1}); err != nil {
		t.Skipf("mDNS not available: %v", err)
	}
	defer advertiser.Stop()

	browseCtx, browseCancel := context.WithTimeout(ctx, 5*time.Second)
	defer browseCancel()
	services, err := discovery.NewBrowser(discovery.BrowserConfig{}).Browse(browseCtx)
	if err != nil {
		t.Fatalf("Failed to browse: %v", err)
	}

	for found := range services {
		if found.InstanceName != instance {
			continue
		}
		if found.Port != port {
			t.Errorf("Port mismatch: expected %d, got %d", port, found.Port)
		}
		if found.Capacity != 1 {
			t.Errorf("Capacity mismatch: expected 1, got %d", found.Capacity)
		}
		return
	}
	t.Skip("advertised instance not seen; multicast may be blocked")
}
