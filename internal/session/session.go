package session

import (
	"sync"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents a chat session
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Messages  []Message `json:"messages"`

	turn chan struct{} // one token, held for a whole respond exchange
	mu   sync.RWMutex  // guards Messages
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		StartTime: time.Now(),
		Messages:  []Message{},
		turn:      make(chan struct{}, 1),
	}
}

// History returns a copy of the messages so far.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

func (s *Session) append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msgs...)
}
