package service

import "sync"

// connTracker maps live connections to their sessions.
type connTracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// newConnTracker creates a new connection tracker.
func newConnTracker() *connTracker {
	return &connTracker{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its connection ID.
func (ct *connTracker) Add(s *Session) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sessions[s.ConnID()] = s
}

// Get returns the session for connID, or nil.
func (ct *connTracker) Get(connID string) *Session {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.sessions[connID]
}

// Remove deregisters and returns the session for connID. Safe to call on
// absent connections.
func (ct *connTracker) Remove(connID string) *Session {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	s := ct.sessions[connID]
	delete(ct.sessions, connID)
	return s
}

// CloseAll ends and removes all tracked sessions.
// Returns the number of sessions closed.
func (ct *connTracker) CloseAll() int {
	ct.mu.Lock()
	sessions := make([]*Session, 0, len(ct.sessions))
	for id, s := range ct.sessions {
		sessions = append(sessions, s)
		delete(ct.sessions, id)
	}
	ct.mu.Unlock()

	// Close outside lock
	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}

// Len returns the number of tracked sessions.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.sessions)
}
