// Command mytimerd runs the timer registry service.
//
// Clients connect over a unix socket (default) or TCP and register named
// countdown timers, list them, change the capacity limit or cancel all of
// them. Subscribed clients are woken when a timer fires.
//
// Usage:
//
//	mytimerd [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-network string       Listen network: unix or tcp
//	-listen string        Socket path or host:port
//	-capacity int         Initial timer capacity
//	-log-level string     Log level: debug, info, warn, error
//	-log-format string    Log format: text or json
//	-protocol-log string  Write CBOR protocol events to this file
//	-metrics string       Serve Prometheus metrics on this address
//	-advertise            Announce the service over mDNS (tcp only)
//
// Flags override values from the configuration file.
//
// Examples:
//
//	# Serve on the default unix socket
//	mytimerd
//
//	# Serve on TCP, announce over mDNS and export metrics
//	mytimerd -network tcp -listen :7117 -advertise -metrics :9117
//
//	# Record every protocol event for mytimer-log
//	mytimerd -protocol-log /var/log/mytimerd.cbor -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mytimer/mytimer-go/pkg/config"
	"github.com/mytimer/mytimer-go/pkg/discovery"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/metrics"
	"github.com/mytimer/mytimer-go/pkg/service"
	"github.com/mytimer/mytimer-go/pkg/version"
)

const (
	shutdownTimeout = 5 * time.Second

	// capacityPollInterval is how often the advertised capacity is
	// refreshed from the registry.
	capacityPollInterval = 2 * time.Second
)

// options holds the command-line flags.
type options struct {
	configPath  string
	network     string
	listen      string
	capacity    int
	logLevel    string
	logFormat   string
	protocolLog string
	metrics     string
	advertise   bool
	instance    string
	version     bool

	// set records which flags were given explicitly.
	set map[string]bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("mytimerd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.network, "network", "", "Listen network: unix or tcp")
	fs.StringVar(&opts.listen, "listen", "", "Socket path or host:port")
	fs.IntVar(&opts.capacity, "capacity", 0, "Initial timer capacity")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&opts.protocolLog, "protocol-log", "", "Write CBOR protocol events to this file")
	fs.StringVar(&opts.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&opts.advertise, "advertise", false, "Announce the service over mDNS (tcp only)")
	fs.StringVar(&opts.instance, "instance", "", "mDNS instance name (default mytimer-<hostname>)")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were given on top of it.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.set["network"] {
		cfg.Service.Network = opts.network
	}
	if opts.set["listen"] {
		cfg.Service.Listen = opts.listen
	}
	if opts.set["capacity"] {
		cfg.Service.Capacity = opts.capacity
	}
	if opts.set["log-level"] {
		cfg.Log.Level = opts.logLevel
	}
	if opts.set["log-format"] {
		cfg.Log.Format = opts.logFormat
	}
	if opts.set["protocol-log"] {
		cfg.Log.ProtocolLog = opts.protocolLog
	}
	if opts.set["metrics"] {
		cfg.Metrics.Listen = opts.metrics
	}
	if opts.set["advertise"] {
		cfg.Discovery.Advertise = opts.advertise
	}
	if opts.set["instance"] {
		cfg.Discovery.Instance = opts.instance
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// newProtocolLogger opens the CBOR protocol log. At debug level events are
// mirrored to the operational log as well.
func newProtocolLogger(path string, logger *slog.Logger) (log.Logger, func() error, error) {
	var loggers []log.Logger
	closeFn := func() error { return nil }

	if path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = fl.Close
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "mytimerd: %v\n", err)
		os.Exit(2)
	}
	if opts.version {
		fmt.Println(version.Banner("mytimerd"))
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mytimerd: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mytimerd: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mytimerd failed", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a component fails, then shuts the
// service down.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	plog, closeLog, err := newProtocolLogger(cfg.Log.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog(); err != nil {
			logger.Warn("close protocol log", "error", err)
		}
	}()

	m := metrics.New()

	sc := cfg.ServiceConfig()
	sc.Logger = logger
	sc.ProtocolLogger = plog
	sc.Metrics = m

	svc := service.New(sc)
	svc.OnEvent(func(ev service.Event) {
		logger.Debug("client event", "event", ev.Type, "conn", ev.ConnID, "owner", ev.OwnerID)
	})
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	logger.Info("mytimerd started",
		"version", version.Build,
		"protocol", version.Current,
		"network", sc.Network,
		"addr", svc.Addr().String(),
		"capacity", svc.Registry().Capacity())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		serveMetrics(gctx, g, cfg.Metrics.Listen, m, logger)
	}
	if cfg.Discovery.Advertise {
		if err := advertise(gctx, g, cfg.Discovery, svc, logger); err != nil {
			logger.Warn("mDNS advertisement unavailable", "error", err)
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()
	logger.Info("shutting down")
	stopErr := svc.Stop()
	if errors.Is(stopErr, service.ErrNotStarted) {
		stopErr = nil
	}
	return errors.Join(runErr, stopErr)
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// advertise announces the service and keeps the advertised capacity in
// step with the registry until ctx ends.
func advertise(ctx context.Context, g *errgroup.Group, cfg config.DiscoveryConfig, svc *service.Service, logger *slog.Logger) error {
	tcpAddr, ok := svc.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("cannot advertise %s listener", svc.Addr().Network())
	}

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: logger})
	capacity := svc.Registry().Capacity()
	err := adv.Advertise(ctx, discovery.ServiceInfo{
		Instance: cfg.Instance,
		Port:     tcpAddr.Port,
		Capacity: capacity,
	})
	if err != nil {
		return err
	}

	g.Go(func() error {
		defer adv.Stop()
		ticker := time.NewTicker(capacityPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := svc.Registry().Capacity(); n != capacity {
					capacity = n
					if err := adv.UpdateCapacity(n); err != nil {
						logger.Warn("update advertised capacity", "error", err)
					}
				}
			}
		}
	})
	return nil
}
