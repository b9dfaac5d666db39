package assistant

import (
	"context"
	"sync"
	"time"
)

// SessionStore keeps profile dialogues keyed by the client-chosen session id.
// Sessions idle for longer than ttl are dropped by Sweep.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*ProfileSession
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*ProfileSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the session for id, or nil.
func (s *SessionStore) Get(id string) *ProfileSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess != nil {
		sess.UpdatedAt = s.now()
	}
	return sess
}

// Start returns the existing session for id or creates a new one.
func (s *SessionStore) Start(id string) *ProfileSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess := s.sessions[id]
	if sess == nil {
		sess = newProfileSession(id, now)
		s.sessions[id] = sess
	}
	sess.UpdatedAt = now
	return sess
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes idle sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
