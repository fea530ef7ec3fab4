package registry

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mytimer/mytimer-go/pkg/command"
	"github.com/mytimer/mytimer-go/pkg/expiry"
	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/metrics"
	"github.com/mytimer/mytimer-go/pkg/notify"
)

// Config configures a Registry.
type Config struct {
	// Capacity is the initial capacity limit. Zero means DefaultCapacity.
	Capacity int

	// Second is the length of one protocol second. Zero means time.Second.
	Second time.Duration

	// Logger receives operational logs. Nil means slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// ProtocolLogger receives timer lifecycle events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Capacity: DefaultCapacity,
		Second:   time.Second,
	}
}

// entry is one live timer.
type entry struct {
	message  string
	owner    Owner
	seconds  uint32
	deadline time.Time
	handle   expiry.Handle
	elem     *list.Element
}

// Registry is the collection of live timers.
type Registry struct {
	mu sync.RWMutex

	// Entries in insertion order
	entries *list.List

	byMessage map[string]*entry
	byHandle  map[expiry.Handle]*entry

	// Handles whose cancel lost the race with a running firing
	retired map[expiry.Handle]struct{}

	count atomic.Int64
	limit atomic.Int64

	closed  bool
	started time.Time

	sched    Scheduler
	notifier Notifier
	config   Config
	logger   *slog.Logger

	// timeNow is used for testing
	timeNow func() time.Time
}

// New creates a registry that arms timers in sched and reports events
// through notifier. The caller wires sched's firings to Fire.
func New(sched Scheduler, notifier Notifier, config Config) *Registry {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Second <= 0 {
		config.Second = time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		entries:   list.New(),
		byMessage: make(map[string]*entry),
		byHandle:  make(map[expiry.Handle]*entry),
		retired:   make(map[expiry.Handle]struct{}),
		sched:     sched,
		notifier:  notifier,
		config:    config,
		logger:    logger.With("component", "registry"),
		timeNow:   time.Now,
	}
	r.started = r.timeNow()
	r.limit.Store(int64(config.Capacity))
	config.Metrics.SetCapacity(config.Capacity)
	return r
}

// Register creates a timer for message firing after seconds, or replaces
// the deadline of the live timer with the same message.
func (r *Registry) Register(message string, seconds uint32, owner Owner) (Outcome, error) {
	message = command.Normalize(message)
	if message == "" {
		return 0, ErrEmptyMessage
	}
	owner.Name = command.Normalize(owner.Name)

	r.mu.Lock()
	outcome, dropped, err := r.registerLocked(message, seconds, owner)
	n := r.count.Load()
	r.mu.Unlock()

	if dropped != nil {
		// Notify outside lock
		r.logger.Warn("timer dropped after failed re-arm", "message", dropped.message, "error", err)
		r.logTimer(log.TimerCancelled, dropped.message, 0, dropped.owner.ID)
		r.config.Metrics.ObserveCancelled(1)
		r.config.Metrics.SetLiveTimers(int(n))
		r.notifier.NotifyOwner(dropped.owner.ID, notify.Event{
			Kind:    notify.EventCancelled,
			Message: dropped.message,
		})
	}
	return outcome, err
}

// registerLocked applies Register under r.mu. It returns the entry it
// removed when an update could not be re-armed.
func (r *Registry) registerLocked(message string, seconds uint32, owner Owner) (Outcome, *entry, error) {
	if r.closed {
		return 0, nil, ErrClosed
	}
	d := time.Duration(seconds) * r.config.Second

	if e, exists := r.byMessage[message]; exists {
		r.cancelLocked(e.handle)
		delete(r.byHandle, e.handle)

		h, err := r.sched.Arm(d)
		if err != nil {
			// The entry has no wake-up left; drop it
			r.removeLocked(e)
			return 0, e, fmt.Errorf("re-arm timer: %w", err)
		}
		e.handle = h
		e.seconds = seconds
		e.deadline = r.timeNow().Add(d)
		r.byHandle[h] = e

		r.logger.Debug("timer updated", "message", message, "seconds", seconds, "owner", owner.ID)
		r.logTimer(log.TimerUpdated, message, seconds, owner.ID)
		r.config.Metrics.ObserveRegistration(OutcomeUpdated.String())
		return OutcomeUpdated, nil, nil
	}

	if r.count.Load() >= r.limit.Load() {
		r.logger.Debug("timer refused", "message", message, "capacity", r.limit.Load())
		r.logTimer(log.TimerRefused, message, seconds, owner.ID)
		r.config.Metrics.ObserveRegistration(OutcomeCapacityExceeded.String())
		return OutcomeCapacityExceeded, nil, nil
	}

	h, err := r.sched.Arm(d)
	if err != nil {
		return 0, nil, fmt.Errorf("arm timer: %w", err)
	}
	e := &entry{
		message:  message,
		owner:    owner,
		seconds:  seconds,
		deadline: r.timeNow().Add(d),
		handle:   h,
	}
	e.elem = r.entries.PushBack(e)
	r.byMessage[message] = e
	r.byHandle[h] = e
	n := r.count.Add(1)

	r.logger.Debug("timer created", "message", message, "seconds", seconds, "owner", owner.ID)
	r.logTimer(log.TimerCreated, message, seconds, owner.ID)
	r.config.Metrics.ObserveRegistration(OutcomeCreated.String())
	r.config.Metrics.SetLiveTimers(int(n))
	return OutcomeCreated, nil, nil
}

// SetCapacity changes the capacity limit. A limit below the number of live
// timers is rejected.
func (r *Registry) SetCapacity(n uint32) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int64(n) < r.count.Load() {
		r.logger.Debug("capacity change rejected", "requested", n, "live", r.count.Load())
		r.logTimer(log.TimerCapacity, "", n, 0)
		return OutcomeRejected
	}
	r.limit.Store(int64(n))
	r.config.Metrics.SetCapacity(int(n))
	r.logger.Debug("capacity changed", "capacity", n)
	r.logTimer(log.TimerCapacity, "", n, 0)
	return OutcomeApplied
}

// CancelAll cancels every live timer and notifies each timer's owner.
// It returns the number of timers cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	cancelled := r.drainLocked()
	r.mu.Unlock()

	// Notify outside lock
	for _, e := range cancelled {
		r.logTimer(log.TimerCancelled, e.message, 0, e.owner.ID)
		r.notifier.NotifyOwner(e.owner.ID, notify.Event{
			Kind:    notify.EventCancelled,
			Message: e.message,
		})
	}

	if len(cancelled) > 0 {
		r.logger.Info("all timers cancelled", "count", len(cancelled))
	}
	r.config.Metrics.ObserveCancelled(len(cancelled))
	r.config.Metrics.SetLiveTimers(0)
	return len(cancelled)
}

// Fire handles the wake-up for h. It is the Scheduler's firing callback.
func (r *Registry) Fire(h expiry.Handle) {
	r.mu.Lock()
	e, exists := r.byHandle[h]
	if !exists {
		_, retired := r.retired[h]
		delete(r.retired, h)
		r.mu.Unlock()

		if retired {
			r.logger.Debug("dropped late firing", "handle", uint64(h))
			return
		}
		r.logger.Error("timer lookup failed",
			"handle", uint64(h),
			"error", ErrHandleLookupInconsistency)
		r.config.Metrics.ObserveInconsistency()
		return
	}
	r.removeLocked(e)
	n := r.count.Load()
	r.mu.Unlock()

	r.logger.Debug("timer fired", "message", e.message, "owner", e.owner.ID)
	r.logTimer(log.TimerFired, e.message, 0, e.owner.ID)
	r.config.Metrics.ObserveFired()
	r.config.Metrics.SetLiveTimers(int(n))

	// Publish after removal so woken readers no longer see the timer
	r.notifier.Publish(notify.Event{
		Kind:    notify.EventFired,
		Message: e.message,
	})
}

// Snapshot returns the current report.
func (r *Registry) Snapshot() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.timeNow()
	report := Report{
		Name:    ServiceName,
		Elapsed: now.Sub(r.started),
		Timers:  make([]TimerInfo, 0, r.entries.Len()),
	}
	for el := r.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		report.Timers = append(report.Timers, r.infoLocked(e, now))
	}
	return report
}

// Lookup returns the live timer for message.
func (r *Registry) Lookup(message string) (TimerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.byMessage[command.Normalize(message)]
	if !exists {
		return TimerInfo{}, false
	}
	return r.infoLocked(e, r.timeNow()), true
}

// Close cancels every timer without notifying owners. Register fails with
// ErrClosed afterwards. It is safe to call Close more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	n := len(r.drainLocked())
	r.config.Metrics.SetLiveTimers(0)
	r.logger.Debug("registry closed", "dropped", n)
}

// Count returns the number of live timers.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Capacity returns the capacity limit.
func (r *Registry) Capacity() int {
	return int(r.limit.Load())
}

// logTimer records a timer lifecycle event on the protocol logger.
func (r *Registry) logTimer(action log.TimerAction, message string, seconds uint32, owner int) {
	if r.config.ProtocolLogger == nil {
		return
	}
	r.config.ProtocolLogger.Log(log.Event{
		Timestamp: r.timeNow(),
		Layer:     log.LayerRegistry,
		Category:  log.CategoryTimer,
		OwnerID:   owner,
		Timer: &log.TimerEvent{
			Action:     action,
			Message:    message,
			Seconds:    seconds,
			LiveTimers: int(r.count.Load()),
			Capacity:   int(r.limit.Load()),
		},
	})
}

// drainLocked cancels and removes every entry, returning them in
// insertion order.
func (r *Registry) drainLocked() []*entry {
	drained := make([]*entry, 0, r.entries.Len())
	for el := r.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		r.cancelLocked(e.handle)
		drained = append(drained, e)
	}
	r.entries.Init()
	clear(r.byMessage)
	clear(r.byHandle)
	r.count.Store(0)
	return drained
}

// removeLocked unlinks e from the collection.
func (r *Registry) removeLocked(e *entry) {
	r.entries.Remove(e.elem)
	delete(r.byMessage, e.message)
	delete(r.byHandle, e.handle)
	r.count.Add(-1)
}

// cancelLocked cancels the wake-up for h, retiring h if its firing is
// already running.
func (r *Registry) cancelLocked(h expiry.Handle) {
	if !r.sched.Cancel(h) {
		r.retired[h] = struct{}{}
	}
}

func (r *Registry) infoLocked(e *entry, now time.Time) TimerInfo {
	remaining := e.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return TimerInfo{
		Message:   e.message,
		OwnerID:   e.owner.ID,
		OwnerName: e.owner.Name,
		Remaining: remaining,
		Seconds:   ceilUnits(remaining, r.config.Second),
	}
}

// ceilUnits returns d in whole units of unit, rounded up.
func ceilUnits(d, unit time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64((d + unit - 1) / unit)
}
