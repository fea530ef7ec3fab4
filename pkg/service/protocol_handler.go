package service

import (
	"errors"
	"log/slog"

	"github.com/mytimer/mytimer-go/pkg/buffer"
	"github.com/mytimer/mytimer-go/pkg/command"
	"github.com/mytimer/mytimer-go/pkg/metrics"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// ProtocolHandler executes requests against the control buffer, the timer
// registry and the notification channel, and builds the responses.
type ProtocolHandler struct {
	buffer  CommandBuffer
	timers  TimerStore
	waiters WaiterSet

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProtocolHandler creates a protocol handler.
func NewProtocolHandler(buf CommandBuffer, timers TimerStore, waiters WaiterSet) *ProtocolHandler {
	return &ProtocolHandler{
		buffer:  buf,
		timers:  timers,
		waiters: waiters,
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetMetrics sets the metrics collectors.
func (h *ProtocolHandler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// SetLogger sets the operational logger.
func (h *ProtocolHandler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// HandleRequest processes a request from sess and returns the response.
func (h *ProtocolHandler) HandleRequest(sess *Session, req *wire.Request) *wire.Response {
	switch req.Operation {
	case wire.OpWrite:
		return h.handleWrite(sess, req)
	case wire.OpRead:
		return h.handleRead(req)
	case wire.OpSubscribe:
		return h.handleSubscribe(sess, req)
	case wire.OpUnsubscribe:
		return h.handleUnsubscribe(sess, req)
	default:
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, "unsupported operation")
	}
}

// handleWrite stages the command in the control buffer, parses the
// buffer's current content and applies it.
func (h *ProtocolHandler) handleWrite(sess *Session, req *wire.Request) *wire.Response {
	var p wire.WritePayload
	if err := req.DecodePayload(&p); err != nil {
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	ownerID := sess.Owner(p.OwnerID)

	if err := h.buffer.Submit(p.Command); err != nil {
		if errors.Is(err, buffer.ErrTooLarge) {
			h.metrics.ObserveOversize()
		}
		h.logger.Debug("command rejected", "conn", sess.ConnID(), "size", len(p.Command), "error", err)
		return h.failure(req.MessageID, err)
	}

	// Last write wins: a concurrent writer may have replaced the content
	cmd := command.Parse(h.buffer.Current())
	h.metrics.ObserveCommand(cmd.Kind.String())

	switch cmd.Kind {
	case command.KindRegister:
		owner := registry.Owner{ID: ownerID, Name: ownerName(p.OwnerName, ownerID)}
		outcome, err := h.timers.Register(cmd.Message, cmd.Seconds, owner)
		if err != nil {
			return h.failure(req.MessageID, err)
		}
		if err := outcome.Err(); err != nil {
			return h.failure(req.MessageID, err)
		}
		result := wire.WriteResult{Outcome: wire.WriteCreated, LiveTimers: uint32(h.timers.Count())}
		if outcome == registry.OutcomeUpdated {
			result.Outcome = wire.WriteUpdated
		}
		return h.success(req.MessageID, &result)

	case command.KindSetCapacity:
		if err := h.timers.SetCapacity(cmd.Count).Err(); err != nil {
			return h.failure(req.MessageID, err)
		}
		return h.success(req.MessageID, &wire.WriteResult{
			Outcome:    wire.WriteApplied,
			Count:      cmd.Count,
			LiveTimers: uint32(h.timers.Count()),
		})

	case command.KindCancelAll:
		n := h.timers.CancelAll()
		return h.success(req.MessageID, &wire.WriteResult{
			Outcome: wire.WriteCancelled,
			Count:   uint32(n),
		})

	default:
		h.logger.Debug("ignoring unknown command", "conn", sess.ConnID())
		return h.success(req.MessageID, &wire.WriteResult{
			Outcome:    wire.WriteIgnored,
			LiveTimers: uint32(h.timers.Count()),
		})
	}
}

// handleRead returns the current snapshot as text and as records.
func (h *ProtocolHandler) handleRead(req *wire.Request) *wire.Response {
	report := h.timers.Snapshot()

	result := wire.ReadResult{
		Text:      report.String(),
		ElapsedMs: uint64(report.Elapsed.Milliseconds()),
		Timers:    make([]wire.TimerRecord, 0, len(report.Timers)),
		Capacity:  uint32(h.timers.Capacity()),
	}
	for _, t := range report.Timers {
		result.Timers = append(result.Timers, wire.TimerRecord{
			Message:   t.Message,
			OwnerID:   t.OwnerID,
			OwnerName: t.OwnerName,
			Seconds:   t.Seconds,
		})
	}
	return h.success(req.MessageID, &result)
}

// handleSubscribe opts the session in to wake-ups.
func (h *ProtocolHandler) handleSubscribe(sess *Session, req *wire.Request) *wire.Response {
	var p wire.SubscribePayload
	if err := req.DecodePayload(&p); err != nil && !errors.Is(err, wire.ErrNoPayload) {
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}

	w, err := sess.Subscribe(sess.Owner(p.OwnerID))
	if err != nil {
		return h.failure(req.MessageID, err)
	}
	h.metrics.SetWaiters(h.waiters.Count())
	return h.success(req.MessageID, &wire.SubscribeResult{WaiterID: w.ID()})
}

// handleUnsubscribe opts the session out of wake-ups. Unsubscribing
// without a subscription succeeds.
func (h *ProtocolHandler) handleUnsubscribe(sess *Session, req *wire.Request) *wire.Response {
	sess.Unsubscribe()
	h.metrics.SetWaiters(h.waiters.Count())
	return h.success(req.MessageID, nil)
}

func (h *ProtocolHandler) success(id uint32, payload any) *wire.Response {
	resp, err := wire.NewResponse(id, wire.StatusSuccess, payload)
	if err != nil {
		h.logger.Error("encode response payload", "error", err)
		return wire.NewErrorResponse(id, wire.StatusUnavailable, err.Error())
	}
	return resp
}

func (h *ProtocolHandler) failure(id uint32, err error) *wire.Response {
	return wire.NewErrorResponse(id, statusFor(err), err.Error())
}

// statusFor maps an operation error to its wire status.
func statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, buffer.ErrTooLarge):
		return wire.StatusTooLarge
	case errors.Is(err, registry.ErrCapacityExceeded):
		return wire.StatusCapacityExceeded
	case errors.Is(err, registry.ErrCapacityShrinkRejected):
		return wire.StatusCapacityShrinkRejected
	case errors.Is(err, registry.ErrEmptyMessage):
		return wire.StatusInvalidRequest
	case errors.Is(err, notify.ErrResourceExhausted):
		return wire.StatusResourceExhausted
	default:
		// registry.ErrClosed, expiry.ErrStopped, notify.ErrClosed
		return wire.StatusUnavailable
	}
}
