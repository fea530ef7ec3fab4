package notify

import "sync"

// Waiter is one registered endpoint waiting for events.
type Waiter struct {
	id      uint64
	ownerID int

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newWaiter(id uint64, ownerID, queueSize int) *Waiter {
	return &Waiter{
		id:      id,
		ownerID: ownerID,
		events:  make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
}

// ID returns the waiter's unique identifier.
func (w *Waiter) ID() uint64 {
	return w.id
}

// OwnerID returns the owner the waiter was registered for.
func (w *Waiter) OwnerID() int {
	return w.ownerID
}

// C returns the channel on which events are delivered.
func (w *Waiter) C() <-chan Event {
	return w.events
}

// Done returns a channel that is closed once the waiter is unregistered.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// IsActive returns true until the waiter is unregistered.
func (w *Waiter) IsActive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// offer queues ev without blocking.
func (w *Waiter) offer(ev Event) bool {
	select {
	case w.events <- ev:
		return true
	default:
		return false
	}
}

func (w *Waiter) deactivate() {
	w.once.Do(func() {
		close(w.done)
	})
}
