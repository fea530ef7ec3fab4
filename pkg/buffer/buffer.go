package buffer

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the size of the control buffer in bytes.
const DefaultCapacity = 256

// ErrTooLarge indicates a command longer than the buffer capacity.
var ErrTooLarge = errors.New("command too large")

// Buffer is the bounded staging area for command text.
type Buffer struct {
	mu sync.RWMutex

	data []byte

	// Write offset for the next submission
	off int

	// Region of the most recent submission
	start, end int
}

// New creates a buffer with the given capacity.
// A capacity of zero or less selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Capacity returns the buffer size in bytes.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Submit copies p into the buffer, replacing the current command.
func (b *Buffer) Submit(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) > len(b.data) {
		b.resetLocked()
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(p), len(b.data))
	}

	if b.off+len(p) > len(b.data) {
		b.resetLocked()
	}

	copy(b.data[b.off:], p)
	b.start = b.off
	b.end = b.off + len(p)
	b.off = b.end
	return nil
}

// Current returns a copy of the most recently submitted command.
func (b *Buffer) Current() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, b.end-b.start)
	copy(out, b.data[b.start:b.end])
	return out
}

// Offset returns the position at which the next submission will be written.
func (b *Buffer) Offset() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.off
}

// Reset clears the buffer and moves the offset back to the start.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Buffer) resetLocked() {
	clear(b.data)
	b.off = 0
	b.start = 0
	b.end = 0
}
