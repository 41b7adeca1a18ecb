package interview

import (
	"sync"
	"time"
)

// State is the position of a session in the interview.
type State int

const (
	StateUnstarted State = iota
	StateIdentityChallenge
	StateQuestion
	StateCompleted
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateIdentityChallenge:
		return "identity_challenge"
	case StateQuestion:
		return "question"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Session is the in-memory progression state of one conversation.
// Step is the index of the question awaiting an answer; while the session
// is idle it equals the number of answers persisted for the candidate.
type Session struct {
	State         State
	Step          int
	StartedAt     time.Time
	LastPromptAt  time.Time
	CandidateID   int64
	ChallengeCode string
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// SessionStore holds at most one active session per conversation ID.
// Transitions for one key are serialized; different keys never wait on each other.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
	locks    map[int64]*keyLock
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]Session),
		locks:    make(map[int64]*keyLock),
	}
}

func (s *SessionStore) acquire(key int64) *keyLock {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *SessionStore) release(key int64, l *keyLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()
}

// Update runs fn with the current session for key (nil when absent) while
// holding the key's lock. A nil next session evicts the key; an error leaves
// the stored session untouched. fn receives a copy, so changes made before
// returning an error are discarded.
func (s *SessionStore) Update(key int64, fn func(cur *Session) (*Session, error)) error {
	l := s.acquire(key)
	defer s.release(key, l)

	var cur *Session
	if sess, ok := s.Get(key); ok {
		cur = &sess
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next == nil {
		delete(s.sessions, key)
	} else {
		s.sessions[key] = *next
	}
	return nil
}

// Get returns a copy of the session for key.
func (s *SessionStore) Get(key int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
