package telegram

import "sync"

// SessionState is the pending admin operation. At most one operation is
// pending at a time; a new menu selection overrides a stale one.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingAddCode
	StateAwaitingAddValue
	StateAwaitingDeleteCode
	StateAwaitingBroadcastPayload
)

// Session carries the pending state plus the code staged between the two
// steps of an add operation.
type Session struct {
	State       SessionState
	PendingCode string
}

// SessionStore guards the single operator session. The bot is driven by one
// update loop but the HTTP admin panel runs concurrently, so access is
// serialized here.
type SessionStore struct {
	mu      sync.Mutex
	session Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Get() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *SessionStore) Set(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// Reset forces the session back to Idle from any state.
func (s *SessionStore) Reset() {
	s.Set(Session{})
}
