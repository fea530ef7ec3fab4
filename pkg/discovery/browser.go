package discovery

import (
	"context"
	"log/slog"
	"net"
	"slices"

	"github.com/enbility/zeroconf/v3"

	"github.com/mytimer/mytimer-go/pkg/version"
)

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	// Empty means all interfaces.
	Interface string

	// Logger for operational logs (optional).
	Logger *slog.Logger
}

// Browser finds timer services over mDNS.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Browser{config: config, logger: logger}
}

// Browse streams compatible services until ctx is done. Services are
// aggregated by instance name: addresses seen on several interfaces are
// merged and each instance is emitted once.
func (b *Browser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		var gone <-chan *zeroconf.ServiceEntry = removed
		services := make(map[string]*Service)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := b.entryToService(entry)
				if svc == nil {
					continue
				}
				if existing, found := services[svc.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.InstanceName] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-gone:
				if !ok {
					gone = nil
					continue
				}
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...); err != nil {
			b.logger.Debug("browse ended", "error", err)
		}
	}()

	return out, nil
}

// Find returns the first compatible service, waiting at most
// BrowseTimeout when ctx has no deadline.
func (b *Browser) Find(ctx context.Context) (*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case svc, ok := <-services:
		if !ok {
			return nil, ErrNotFound
		}
		return svc, nil
	case <-ctx.Done():
		return nil, ErrNotFound
	}
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToService converts a zeroconf entry, returning nil for invalid or
// incompatible services.
func (b *Browser) entryToService(entry *zeroconf.ServiceEntry) *Service {
	return b.toService(entry.Instance, entry.HostName, entry.Port, entryAddrs(entry), entry.Text)
}

// entryAddrs lists the IPv4 then IPv6 addresses of entry.
func entryAddrs(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range slices.Concat(entry.AddrIPv4, entry.AddrIPv6) {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

func (b *Browser) toService(instance, host string, port int, addrs, text []string) *Service {
	info, err := DecodeTXT(StringsToTXTRecords(text))
	if err != nil {
		b.logger.Debug("ignoring service", "instance", instance, "error", err)
		return nil
	}
	v, _ := version.Parse(info.Version)
	if !v.Compatible(version.MustCurrent()) {
		b.logger.Debug("ignoring incompatible service", "instance", instance, "version", info.Version)
		return nil
	}

	if info.Host != "" && host == "" {
		host = info.Host
	}
	return &Service{
		InstanceName: instance,
		Host:         host,
		Port:         port,
		Addresses:    addrs,
		Version:      info.Version,
		Capacity:     info.Capacity,
	}
}

// mergeAddresses appends the addresses of added missing from existing.
func mergeAddresses(existing, added []string) []string {
	for _, addr := range added {
		if !slices.Contains(existing, addr) {
			existing = append(existing, addr)
		}
	}
	return existing
}

// removeAddresses drops the addresses of entry from addresses.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	gone := entryAddrs(entry)
	return slices.DeleteFunc(slices.Clone(addresses), func(addr string) bool {
		return slices.Contains(gone, addr)
	})
}
