package service

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// Session is the service side of one client connection. It remembers the
// client's process ID and forwards wake-ups while the client is
// subscribed.
type Session struct {
	peer    Peer
	waiters WaiterSet

	logger         *slog.Logger
	protocolLogger log.Logger

	ownerID atomic.Int64

	mu          sync.Mutex
	waiter      *notify.Waiter
	forwardDone chan struct{}
	closed      bool
}

// NewSession creates a session for peer. Subscriptions register waiters
// in waiters.
func NewSession(peer Peer, waiters WaiterSet) *Session {
	return &Session{
		peer:    peer,
		waiters: waiters,
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the operational logger.
func (s *Session) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetProtocolLogger sets the protocol event logger.
func (s *Session) SetProtocolLogger(logger log.Logger) {
	s.protocolLogger = logger
}

// ConnID returns the connection identifier.
func (s *Session) ConnID() string {
	return s.peer.ConnID()
}

// Owner returns the client's process ID. The kernel-reported peer PID
// wins; otherwise the most recent non-zero declared ID is used.
func (s *Session) Owner(declared int) int {
	if pid, ok := s.peer.PeerPID(); ok {
		return pid
	}
	if declared != 0 {
		s.ownerID.Store(int64(declared))
	}
	return int(s.ownerID.Load())
}

// Subscribe registers a waiter for ownerID and starts forwarding its events
// to the client. A session holds at most one waiter; subscribing again
// returns the existing one.
func (s *Session) Subscribe(ownerID int) (*notify.Waiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, notify.ErrClosed
	}
	if s.waiter != nil && s.waiter.IsActive() {
		return s.waiter, nil
	}

	w, err := s.waiters.Register(ownerID)
	if err != nil {
		return nil, err
	}
	s.waiter = w
	s.forwardDone = make(chan struct{})
	go s.forward(w, s.forwardDone)

	s.logState("", "SUBSCRIBED", fmt.Sprintf("waiter %d owner %d", w.ID(), w.OwnerID()))
	return w, nil
}

// Unsubscribe removes the session's waiter. No notification is sent after
// Unsubscribe returns. It returns false if the session had no waiter.
func (s *Session) Unsubscribe() bool {
	s.mu.Lock()
	w, done := s.waiter, s.forwardDone
	s.waiter, s.forwardDone = nil, nil
	s.mu.Unlock()

	if w == nil {
		return false
	}
	s.waiters.Unregister(w)
	<-done

	s.logState("SUBSCRIBED", "UNSUBSCRIBED", "")
	return true
}

// Subscribed reports whether the session has an active waiter.
func (s *Session) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiter != nil && s.waiter.IsActive()
}

// Close ends the session and drops its subscription.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Unsubscribe()
}

// forward relays events from w until it is unregistered or the connection
// closes.
func (s *Session) forward(w *notify.Waiter, done chan struct{}) {
	defer close(done)

	ctx := s.peer.Context()
	for {
		select {
		case ev := <-w.C():
			s.sendNotification(ev)
		case <-w.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) sendNotification(ev notify.Event) {
	notif := &wire.Notification{
		Kind:      wireEventKind(ev.Kind),
		Message:   ev.Message,
		Timestamp: ev.Timestamp.UnixMilli(),
	}
	data, err := wire.EncodeNotification(notif)
	if err != nil {
		s.logger.Error("encode notification", "error", err)
		return
	}
	if err := s.peer.Send(data); err != nil {
		s.logger.Debug("notification not delivered", "conn", s.ConnID(), "error", err)
		return
	}
	s.logNotification(notif)
}

// sendResponse sends resp and records it with its processing time.
func (s *Session) sendResponse(op wire.Operation, resp *wire.Response, received time.Time) error {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if err := s.peer.Send(data); err != nil {
		return err
	}
	s.logResponse(op, resp, time.Since(received))
	return nil
}

func wireEventKind(k notify.EventKind) wire.EventKind {
	switch k {
	case notify.EventCancelled:
		return wire.EventCancelled
	default:
		return wire.EventFired
	}
}

// ownerName returns declared, or the command name of process pid when
// nothing was declared.
func ownerName(declared string, pid int) string {
	if declared != "" || pid <= 0 {
		return declared
	}
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(comm))
}

// logRequest logs an incoming request event.
func (s *Session) logRequest(req *wire.Request) {
	if s.protocolLogger == nil {
		return
	}

	op := req.Operation
	ev := &log.MessageEvent{
		Type:      log.MessageTypeRequest,
		MessageID: req.MessageID,
		Operation: &op,
	}
	if op == wire.OpWrite {
		var p wire.WritePayload
		if req.DecodePayload(&p) == nil {
			ev.Command = string(p.Command)
		}
	}
	s.logMessage(log.DirectionIn, ev)
}

// logResponse logs an outgoing response event.
func (s *Session) logResponse(op wire.Operation, resp *wire.Response, elapsed time.Duration) {
	if s.protocolLogger == nil {
		return
	}

	status := resp.Status
	ev := &log.MessageEvent{
		Type:           log.MessageTypeResponse,
		MessageID:      resp.MessageID,
		Status:         &status,
		ProcessingTime: &elapsed,
	}
	if op == wire.OpWrite && resp.IsSuccess() {
		var res wire.WriteResult
		if resp.DecodePayload(&res) == nil {
			ev.Outcome = &res.Outcome
		}
	}
	s.logMessage(log.DirectionOut, ev)
}

// logNotification logs an outgoing notification event.
func (s *Session) logNotification(notif *wire.Notification) {
	if s.protocolLogger == nil {
		return
	}

	kind := notif.Kind
	s.logMessage(log.DirectionOut, &log.MessageEvent{
		Type:         log.MessageTypeNotification,
		EventKind:    &kind,
		TimerMessage: notif.Message,
	})
}

func (s *Session) logMessage(dir log.Direction, msg *log.MessageEvent) {
	s.protocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.ConnID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleService,
		OwnerID:      s.knownOwner(),
		Message:      msg,
	})
}

// logError logs a request that could not be processed.
func (s *Session) logError(err error, context string) {
	if s.protocolLogger == nil {
		return
	}
	s.protocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerService,
		Category:     log.CategoryError,
		LocalRole:    log.RoleService,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: context,
		},
	})
}

func (s *Session) logState(oldState, newState, reason string) {
	if s.protocolLogger == nil {
		return
	}
	s.protocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.ConnID(),
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    log.RoleService,
		OwnerID:      s.knownOwner(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// knownOwner returns the owner ID without recording a declaration.
func (s *Session) knownOwner() int {
	if pid, ok := s.peer.PeerPID(); ok {
		return pid
	}
	return int(s.ownerID.Load())
}
