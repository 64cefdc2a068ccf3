// Package session keeps per-session conversation history in process memory.
package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store owns every live session. A closed session is gone for good; opening
// the same id again starts an empty one.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (s *Store) getOrCreate(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, false
	}
	sess := newSession(id)
	s.sessions[id] = sess
	return sess, true
}

// Open returns the history of a session, creating the session if needed.
// created reports whether this call created it.
func (s *Store) Open(id string) (history []Message, created bool) {
	sess, created := s.getOrCreate(id)
	return sess.History(), created
}

// Get returns the history of an existing session without creating one.
func (s *Store) Get(id string) ([]Message, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.History(), true
}

// Close removes a session. Closing an absent session does nothing and
// reports false.
func (s *Store) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// IDs lists the live session ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Acquire takes the exclusive turn of a session, creating it if needed. It
// blocks until any in-flight turn on the same session is released or ctx is
// done. Turns on different sessions never wait on each other.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	sess, _ := s.getOrCreate(id)
	select {
	case sess.turn <- struct{}{}:
		return &Lease{sess: sess}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lease is the exclusive right to run one exchange on a session.
type Lease struct {
	sess *Session
	once sync.Once
}

// ID returns the session id.
func (l *Lease) ID() string {
	return l.sess.ID
}

// History returns the messages recorded before this turn.
func (l *Lease) History() []Message {
	return l.sess.History()
}

// Append records a completed exchange: the user message and the reply.
func (l *Lease) Append(user, assistant string) {
	now := time.Now()
	l.sess.append(
		Message{Role: RoleUser, Content: user, Timestamp: now},
		Message{Role: RoleAssistant, Content: assistant, Timestamp: now},
	)
}

// Release gives the turn back. Calling it more than once is safe.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.sess.turn })
}
