package session

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/assistant-relay/internal/model"
)

// pruneInterval bounds how often Put sweeps expired sessions.
const pruneInterval = time.Minute

// MemoryStore keeps sessions in process memory. Expired sessions are
// dropped on read and swept at most once per pruneInterval on write.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]model.Session
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// Get returns the session stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*model.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if sess.Expired(s.now()) {
		s.mu.Lock()
		delete(s.sessions, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Put stores a copy of sess.
func (s *MemoryStore) Put(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Key] = *sess
	if now := s.now(); now.Sub(s.lastPrune) >= pruneInterval {
		s.pruneLocked(now)
	}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
	return nil
}

// Prune removes expired sessions and returns how many were removed.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.now())
}

func (s *MemoryStore) pruneLocked(now time.Time) int {
	s.lastPrune = now
	removed := 0
	for key, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
