package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. TTL > 0 expires sessions
// that have been idle longer than the TTL; expiry is checked lazily on Get.
type MemoryStore struct {
	TTL time.Duration

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{TTL: ttl, sessions: make(map[string]Session)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.expired(session, time.Now()) {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) Put(_ context.Context, session Session) error {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Sweep removes every expired session and reports how many were dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, session := range s.sessions {
		if s.expired(session, now) {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}

func (s *MemoryStore) expired(session Session, now time.Time) bool {
	return s.TTL > 0 && now.Sub(session.UpdatedAt) > s.TTL
}
