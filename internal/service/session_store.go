package service

import (
	"sync"
	"time"

	"github.com/guysoft/craftbeerpibot/internal/domain"
)

// SessionStore keeps in-flight conversations in memory. A session idle
// for longer than idleTimeout reads as absent; zero disables expiry.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[domain.SessionKey]domain.ConversationSession
	idleTimeout time.Duration
	now         func() time.Time
}

func NewSessionStore(idleTimeout time.Duration) *SessionStore {
	return &SessionStore{
		sessions:    map[domain.SessionKey]domain.ConversationSession{},
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

func (s *SessionStore) Get(key domain.SessionKey) (domain.ConversationSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	if !ok {
		return domain.ConversationSession{}, false
	}
	if s.expired(session) {
		delete(s.sessions, key)
		return domain.ConversationSession{}, false
	}
	return session, true
}

// State returns StateIdle for keys without a live session.
func (s *SessionStore) State(key domain.SessionKey) domain.ConversationState {
	session, ok := s.Get(key)
	if !ok {
		return domain.StateIdle
	}
	return session.State
}

func (s *SessionStore) Put(session domain.ConversationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.UpdatedAt = s.now()
	s.sessions[session.Key] = session
}

func (s *SessionStore) Delete(key domain.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
}

// Len counts live sessions and drops expired ones.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, session := range s.sessions {
		if s.expired(session) {
			delete(s.sessions, key)
		}
	}
	return len(s.sessions)
}

func (s *SessionStore) expired(session domain.ConversationSession) bool {
	return s.idleTimeout > 0 && s.now().Sub(session.UpdatedAt) > s.idleTimeout
}
