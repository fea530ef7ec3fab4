package expiry

import (
	"errors"
	"sync"
	"time"
)

// Engine errors.
var (
	ErrStopped         = errors.New("expiration engine stopped")
	ErrInvalidDuration = errors.New("invalid duration")
)

// Handle identifies one armed timer.
type Handle uint64

// timer is an armed wake-up.
type timer struct {
	handle Handle

	// t is the Go timer for the wake-up
	t *time.Timer
}

// Engine schedules wake-ups and reports firings.
type Engine struct {
	mu sync.Mutex

	// Armed timers by handle
	timers map[Handle]*timer

	// Last issued handle
	last Handle

	stopped bool

	// Counts armed timers whose callback may still run
	inflight sync.WaitGroup

	// Callback when a timer fires
	onFire func(Handle)
}

// NewEngine creates a new expiration engine.
func NewEngine() *Engine {
	return &Engine{
		timers: make(map[Handle]*timer),
	}
}

// OnFire sets the callback invoked when a timer fires.
func (e *Engine) OnFire(fn func(Handle)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFire = fn
}

// Arm schedules a wake-up after d and returns its handle.
func (e *Engine) Arm(d time.Duration) (Handle, error) {
	if d < 0 {
		return 0, ErrInvalidDuration
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return 0, ErrStopped
	}

	e.last++
	h := e.last

	// The callback blocks on e.mu until the timer is recorded,
	// so even a zero duration cannot fire before Arm returns.
	e.inflight.Add(1)
	e.timers[h] = &timer{
		handle: h,
		t: time.AfterFunc(d, func() {
			e.fire(h)
		}),
	}
	return h, nil
}

// Cancel stops the timer for h. It returns true if the OnFire callback
// will not be invoked for h.
func (e *Engine) Cancel(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, exists := e.timers[h]
	if !exists {
		return false
	}
	delete(e.timers, h)

	if t.t.Stop() {
		e.inflight.Done()
	}
	// Otherwise the callback has started, will find no timer and return.
	return true
}

// Pending returns the number of armed timers that have not fired.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Stop cancels all pending timers and waits for running callbacks to return.
// It is safe to call Stop more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	for h, t := range e.timers {
		delete(e.timers, h)
		if t.t.Stop() {
			e.inflight.Done()
		}
	}
	e.mu.Unlock()

	e.inflight.Wait()
}

// fire handles a timer's wake-up.
func (e *Engine) fire(h Handle) {
	defer e.inflight.Done()

	e.mu.Lock()
	if _, exists := e.timers[h]; !exists {
		// Cancelled after the wake-up was scheduled to run
		e.mu.Unlock()
		return
	}
	delete(e.timers, h)
	callback := e.onFire
	e.mu.Unlock()

	// Call callback outside lock
	if callback != nil {
		callback(h)
	}
}
