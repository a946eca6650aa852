package core

import "time"

// Session is the per-user conversational state: the ordered message history
// plus the currently active expert. A session is mutated only by the turn
// orchestrator while it holds that user's turn lock; stores hand out copies,
// never shared pointers (see Clone).
type Session struct {
	UserID        string    `json:"user_id"`
	History       []Message `json:"history"`
	CurrentExpert string    `json:"current_expert"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

// NewSession creates an empty session for a user with the given starting
// expert.
func NewSession(userID, currentExpert string) *Session {
	now := time.Now().UTC()
	return &Session{
		UserID:        userID,
		History:       []Message{},
		CurrentExpert: currentExpert,
		Created:       now,
		Updated:       now,
	}
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	clone.History = make([]Message, len(s.History))
	copy(clone.History, s.History)
	return &clone
}

// SessionStore persists sessions between turns. Implementations may evict
// sessions at any time; the orchestrator treats a missing session as new.
// Get returns (nil, nil) when no session exists for the user.
type SessionStore interface {
	Get(userID string) (*Session, error)
	Put(userID string, session *Session) error
}
