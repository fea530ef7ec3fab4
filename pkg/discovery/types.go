package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/mytimer/mytimer-go/pkg/transport"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of the timer service.
	ServiceType = "_mytimer._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default advertised port.
	DefaultPort = transport.DefaultPort
)

// TXT record keys.
const (
	TXTKeyVersion  = "pv"
	TXTKeyCapacity = "cap"
	TXTKeyHost     = "host"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 5 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrNotFound            = errors.New("service not found")
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrNotAdvertising      = errors.New("not advertising")
)

// ServiceInfo is what a service advertises.
type ServiceInfo struct {
	// Instance is the DNS-SD instance name. Empty selects
	// "mytimer-<hostname>".
	Instance string

	// Port is the TCP port the service listens on.
	Port int

	// Version is the wire protocol version, "major.minor".
	Version string

	// Capacity is the capacity limit. Zero omits it.
	Capacity int

	// Host is the host name. Optional.
	Host string
}

// Service is a service found by browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         int
	Addresses    []string

	Version  string
	Capacity int
}

// Address returns a host:port to dial, preferring the first resolved
// address over the host name.
func (s *Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}
