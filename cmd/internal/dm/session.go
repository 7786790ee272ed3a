package dm

import (
	"sync"

	v1 "buildlink/shared/contracts/directmsg/v1"
)

// Session is one connected websocket client.
//
// Send is never closed by the gateway; done signals the writer to stop and Close is idempotent.
type Session struct {
	ID   string
	Send chan v1.Envelope

	mu     sync.RWMutex
	userID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a Session with a bounded send queue.
func NewSession(id string, sendQueueSize int) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Session{
		ID:   id,
		Send: make(chan v1.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// UserID returns the user bound by hello, or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Bind attaches userID once. It reports false if the session is already bound.
func (s *Session) Bind(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != "" {
		return false
	}
	s.userID = userID
	return true
}

// Done is closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close signals the session goroutines to stop.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
