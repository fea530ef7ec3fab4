// Package config loads the mytimerd configuration file.
//
// The file is YAML. Fields left out keep their defaults:
//
//	service:
//	  network: tcp
//	  listen: ":7117"
//	  capacity: 4
//	log:
//	  level: debug
//	  format: json
//	metrics:
//	  listen: ":9117"
//	discovery:
//	  advertise: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mytimer/mytimer-go/pkg/buffer"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/service"
	"github.com/mytimer/mytimer-go/pkg/transport"
)

// ErrInvalidConfig is returned for configurations that fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the mytimerd configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServiceConfig configures the timer service.
type ServiceConfig struct {
	Network        string        `yaml:"network"`
	Listen         string        `yaml:"listen"`
	Capacity       int           `yaml:"capacity"`
	BufferSize     int           `yaml:"buffer_size"`
	Second         time.Duration `yaml:"second"`
	MaxWaiters     int           `yaml:"max_waiters"`
	MaxConnections int           `yaml:"max_connections"`
}

// LogConfig configures operational and protocol logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// ProtocolLog is the path of the CBOR protocol log. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Network:    transport.NetworkUnix,
			Listen:     transport.DefaultSocketPath,
			Capacity:   registry.DefaultCapacity,
			BufferSize: buffer.DefaultCapacity,
			Second:     time.Second,
			MaxWaiters: notify.DefaultMaxWaiters,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	s := c.Service
	switch s.Network {
	case transport.NetworkUnix, transport.NetworkTCP:
	default:
		return invalid("service.network must be %q or %q, got %q", transport.NetworkUnix, transport.NetworkTCP, s.Network)
	}
	if s.Listen == "" {
		return invalid("service.listen is required")
	}
	if s.Capacity < 0 {
		return invalid("service.capacity must not be negative")
	}
	if s.BufferSize <= 0 || s.BufferSize > int(transport.DefaultMaxMessageSize) {
		return invalid("service.buffer_size must be between 1 and %d", transport.DefaultMaxMessageSize)
	}
	if s.Second <= 0 {
		return invalid("service.second must be positive")
	}
	if s.MaxWaiters < 0 || s.MaxConnections < 0 {
		return invalid("service limits must not be negative")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return invalid("log.level: %v", err)
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return invalid("log.format must be %q or %q, got %q", FormatText, FormatJSON, c.Log.Format)
	}

	if c.Discovery.Advertise && s.Network != transport.NetworkTCP {
		return invalid("discovery.advertise requires service.network %q", transport.NetworkTCP)
	}
	return nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// ServiceConfig returns the service settings as a service.Config. Loggers
// and metrics are left for the caller.
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		Network:        c.Service.Network,
		Address:        c.Service.Listen,
		Capacity:       c.Service.Capacity,
		BufferSize:     c.Service.BufferSize,
		Second:         c.Service.Second,
		MaxWaiters:     c.Service.MaxWaiters,
		MaxConnections: c.Service.MaxConnections,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
