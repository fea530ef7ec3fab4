package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertisement to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the record TTL. Zero keeps the zeroconf default.
	TTL time.Duration

	// Logger for operational logs (optional).
	Logger *slog.Logger
}

// Advertiser announces one timer service over mDNS.
type Advertiser struct {
	config AdvertiserConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
	info   ServiceInfo
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Advertiser{config: config, logger: logger}
}

// Advertise starts announcing info, replacing an earlier announcement.
func (a *Advertiser) Advertise(ctx context.Context, info ServiceInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.Instance == "" {
		info.Instance = DefaultInstanceName()
	}
	if err := ValidateInstanceName(info.Instance); err != nil {
		return err
	}
	if info.Port == 0 {
		info.Port = DefaultPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		info.Port,
		TXTRecordsToStrings(EncodeTXT(&info)),
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	a.server = server
	a.info = info
	a.logger.Info("advertising service", "instance", info.Instance, "type", ServiceType, "port", info.Port)
	return nil
}

// UpdateCapacity refreshes the advertised capacity.
func (a *Advertiser) UpdateCapacity(capacity int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.info.Capacity = capacity
	a.server.SetText(TXTRecordsToStrings(EncodeTXT(&a.info)))
	return nil
}

// Stop withdraws the announcement. Safe to call when not advertising.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("stopped advertising", "instance", a.info.Instance)
	}
}

// interfaces returns the interfaces to advertise on; nil means all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("unknown interface, advertising on all", "interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// DefaultInstanceName returns "mytimer-<hostname>", cut to the DNS label
// limit.
func DefaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	name := "mytimer-" + host
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}
