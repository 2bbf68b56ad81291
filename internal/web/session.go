package web

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// session is one authenticated browser session.
type session struct {
	ID        string
	ExpiresAt time.Time
}

// sessionStore keeps sessions in memory. A restart logs everyone out.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		sessions: map[string]*session{},
		ttl:      ttl,
	}
}

func (s *sessionStore) Create(now time.Time) (*session, error) {
	id, err := randomToken(32)
	if err != nil {
		return nil, err
	}

	sess := &session{
		ID:        id,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
	return sess, nil
}

func (s *sessionStore) Valid(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, id)
		return false
	}
	return true
}

func (s *sessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *sessionStore) prune(now time.Time) {
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
