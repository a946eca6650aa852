package session

import (
	"sync"

	"github.com/hupe1980/switchboard/core"
)

// InMemoryStore is a volatile SessionStore implementation keeping sessions in
// a process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Sessions are cloned on both read and write
// so callers never share pointers with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Get returns a clone of the stored session for userID, or (nil, nil) when
// none exists.
func (s *InMemoryStore) Get(userID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess.Clone(), nil
	}
	return nil, nil
}

// Put stores a clone of the provided session snapshot.
func (s *InMemoryStore) Put(userID string, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = sess.Clone()
	return nil
}

// Delete evicts a session. Lifecycle management (TTL eviction etc.) is the
// store's concern; the flow treats a missing session as new.
func (s *InMemoryStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}
