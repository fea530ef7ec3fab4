package service

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mytimer/mytimer-go/pkg/buffer"
	"github.com/mytimer/mytimer-go/pkg/expiry"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/transport"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// Service is the timer service context. Start builds the control buffer,
// the registry, the expiration engine and the notification channel and
// begins serving clients; Stop tears them down.
type Service struct {
	mu sync.RWMutex

	config Config
	state  ServiceState

	// Service context, rebuilt by every Start
	engine   *expiry.Engine
	channel  *notify.Channel
	registry *registry.Registry
	handler  *ProtocolHandler
	server   *transport.Server

	sessions *connTracker

	eventHandlers []EventHandler

	logger         *slog.Logger
	protocolLogger log.Logger

	cancel context.CancelFunc
}

// New creates a stopped service.
func New(config Config) *Service {
	def := DefaultConfig()
	if config.Network == "" {
		config.Network = def.Network
	}
	if config.Address == "" && config.Network == transport.NetworkUnix {
		config.Address = def.Address
	}
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.Second <= 0 {
		config.Second = def.Second
	}
	if config.MaxWaiters <= 0 {
		config.MaxWaiters = def.MaxWaiters
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		config:         config,
		state:          StateIdle,
		sessions:       newConnTracker(),
		logger:         logger,
		protocolLogger: config.ProtocolLogger,
	}
}

// State returns the current service state.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnEvent registers an event handler.
func (s *Service) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// Start builds the service context and starts accepting clients.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	prev := s.state
	s.state = StateStarting
	s.mu.Unlock()
	s.logState(prev, StateStarting)

	cfg := s.config
	buf := buffer.New(cfg.BufferSize)
	engine := expiry.NewEngine()
	channel := notify.NewChannelWithConfig(notify.Config{MaxWaiters: cfg.MaxWaiters})
	reg := registry.New(engine, &meteredNotifier{channel: channel, metrics: cfg.Metrics}, registry.Config{
		Capacity:       cfg.Capacity,
		Second:         cfg.Second,
		Logger:         s.logger,
		Metrics:        cfg.Metrics,
		ProtocolLogger: s.protocolLogger,
	})
	engine.OnFire(reg.Fire)

	handler := NewProtocolHandler(buf, reg, channel)
	handler.SetMetrics(cfg.Metrics)
	handler.SetLogger(s.logger)

	server, err := transport.NewServer(transport.ServerConfig{
		Network:        cfg.Network,
		Address:        cfg.Address,
		MaxConnections: cfg.MaxConnections,
		Logger:         s.protocolLogger,
		OnConnect:      s.handleConnect,
		OnDisconnect:   s.handleDisconnect,
		OnMessage:      s.handleMessage,
		OnError:        s.handleError,
	})
	if err != nil {
		teardown(engine, reg, channel)
		s.setState(prev)
		return err
	}

	s.mu.Lock()
	s.engine = engine
	s.channel = channel
	s.registry = reg
	s.handler = handler
	s.server = server
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	if err := server.Start(ctx); err != nil {
		cancel()
		teardown(engine, reg, channel)
		s.setState(prev)
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()
	s.logState(StateStarting, StateRunning)

	s.logger.Info("timer service started",
		"network", cfg.Network,
		"address", server.Addr().String(),
		"capacity", cfg.Capacity)
	return nil
}

// Stop stops accepting clients, stops the engine, then releases every
// timer and waiter. Live timers are dropped without notifications.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	server, engine, reg, channel := s.server, s.engine, s.registry, s.channel
	cancel := s.cancel
	s.mu.Unlock()
	s.logState(StateRunning, StateStopping)

	dropped := reg.Count()

	// Connections first so no request races the teardown
	server.Stop()
	s.sessions.CloseAll()
	teardown(engine, reg, channel)
	cancel()

	s.setState(StateStopped)
	s.logState(StateStopping, StateStopped)
	s.logger.Info("timer service stopped", "dropped_timers", dropped)
	return nil
}

// teardown releases the service context in shutdown order. Every step
// tolerates repeated calls.
func teardown(engine *expiry.Engine, reg *registry.Registry, channel *notify.Channel) {
	engine.Stop()
	reg.Close()
	channel.Close()
}

// Addr returns the listen address, or nil when not running.
func (s *Service) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil || s.state != StateRunning {
		return nil
	}
	return s.server.Addr()
}

// Registry returns the timer registry of the current run.
func (s *Service) Registry() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// SessionCount returns the number of connected clients.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}

// WaiterCount returns the number of subscribed clients.
func (s *Service) WaiterCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.channel == nil {
		return 0
	}
	return s.channel.Count()
}

func (s *Service) handleConnect(conn *transport.ServerConn) {
	s.mu.RLock()
	channel := s.channel
	s.mu.RUnlock()

	sess := NewSession(conn, channel)
	sess.SetLogger(s.logger)
	sess.SetProtocolLogger(s.protocolLogger)
	s.sessions.Add(sess)

	pid, _ := conn.PeerPID()
	s.logger.Debug("client connected", "conn", conn.ConnID(), "remote", conn.RemoteAddr(), "pid", pid)
	s.emitEvent(Event{Type: EventConnected, ConnID: conn.ConnID(), OwnerID: pid})
}

func (s *Service) handleDisconnect(conn *transport.ServerConn) {
	sess := s.sessions.Remove(conn.ConnID())
	if sess == nil {
		return
	}
	sess.Close()
	s.config.Metrics.SetWaiters(s.WaiterCount())

	s.logger.Debug("client disconnected", "conn", conn.ConnID())
	s.emitEvent(Event{Type: EventDisconnected, ConnID: conn.ConnID(), OwnerID: sess.knownOwner()})
}

func (s *Service) handleMessage(conn *transport.ServerConn, data []byte) {
	sess := s.sessions.Get(conn.ConnID())
	if sess == nil {
		return
	}
	received := time.Now()

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	req, err := wire.DecodeRequest(data)
	if err != nil {
		s.logger.Debug("invalid request", "conn", conn.ConnID(), "error", err)
		sess.logError(err, "decode request")
		// Answer when the request carries an ID to answer to
		if id := requestID(data); id != wire.NotificationMessageID {
			resp := wire.NewErrorResponse(id, wire.StatusInvalidRequest, err.Error())
			sess.sendResponse(0, resp, received)
		}
		return
	}
	sess.logRequest(req)

	resp := handler.HandleRequest(sess, req)
	if err := sess.sendResponse(req.Operation, resp, received); err != nil {
		s.logger.Debug("response not delivered", "conn", conn.ConnID(), "error", err)
		return
	}

	if resp.IsSuccess() {
		switch req.Operation {
		case wire.OpSubscribe:
			s.emitEvent(Event{Type: EventSubscribed, ConnID: conn.ConnID(), OwnerID: sess.knownOwner()})
		case wire.OpUnsubscribe:
			s.emitEvent(Event{Type: EventUnsubscribed, ConnID: conn.ConnID(), OwnerID: sess.knownOwner()})
		}
	}
}

func (s *Service) handleError(conn *transport.ServerConn, err error) {
	if conn == nil {
		s.logger.Warn("listener error", "error", err)
		return
	}
	s.logger.Debug("connection error", "conn", conn.ConnID(), "error", err)
	if sess := s.sessions.Get(conn.ConnID()); sess != nil {
		sess.logError(err, "read frame")
	}
}

// requestID extracts the message ID of a request that failed validation.
func requestID(data []byte) uint32 {
	var peek struct {
		MessageID uint32 `cbor:"1,keyasint"`
	}
	if wire.Unmarshal(data, &peek) != nil {
		return wire.NotificationMessageID
	}
	return peek.MessageID
}

// emitEvent sends an event to all registered handlers.
func (s *Service) emitEvent(event Event) {
	s.mu.RLock()
	handlers := s.eventHandlers
	s.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

func (s *Service) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// logState records a service lifecycle change.
func (s *Service) logState(from, to ServiceState) {
	if s.protocolLogger == nil {
		return
	}
	s.protocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		LocalRole: log.RoleService,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityService,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}
