package interview

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSessionStoreUpdate(t *testing.T) {
	s := NewSessionStore()

	err := s.Update(1, func(cur *Session) (*Session, error) {
		if cur != nil {
			t.Fatalf("expected no session, got %+v", cur)
		}
		return &Session{State: StateIdentityChallenge, ChallengeCode: "0042"}, nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, ok := s.Get(1)
	if !ok || got.State != StateIdentityChallenge || got.ChallengeCode != "0042" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	if _, ok := s.Get(2); ok {
		t.Fatal("unexpected session for key 2")
	}
}

func TestSessionStoreErrorLeavesSession(t *testing.T) {
	s := NewSessionStore()
	_ = s.Update(1, func(*Session) (*Session, error) {
		return &Session{State: StateQuestion, Step: 3}, nil
	})

	boom := errors.New("boom")
	err := s.Update(1, func(cur *Session) (*Session, error) {
		cur.Step = 99
		return cur, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want %v", err, boom)
	}

	got, _ := s.Get(1)
	if got.Step != 3 {
		t.Fatalf("Step = %d, want 3", got.Step)
	}
}

func TestSessionStoreNilEvicts(t *testing.T) {
	s := NewSessionStore()
	_ = s.Update(1, func(*Session) (*Session, error) { return &Session{}, nil })
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	_ = s.Update(1, func(*Session) (*Session, error) { return nil, nil })
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestSessionStoreSerializesPerKey(t *testing.T) {
	s := NewSessionStore()
	const workers = 200

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(7, func(cur *Session) (*Session, error) {
				next := Session{State: StateQuestion}
				if cur != nil {
					next = *cur
				}
				next.Step++
				return &next, nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(7)
	if got.Step != workers {
		t.Fatalf("Step = %d, want %d", got.Step, workers)
	}

	s.mu.Lock()
	locks := len(s.locks)
	s.mu.Unlock()
	if locks != 0 {
		t.Fatalf("lock table has %d entries after all callers returned", locks)
	}
}

func TestSessionStoreKeysAreIndependent(t *testing.T) {
	s := NewSessionStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.Update(1, func(*Session) (*Session, error) {
			close(entered)
			<-release
			return &Session{}, nil
		})
		close(done)
	}()
	<-entered

	finished := make(chan struct{})
	go func() {
		_ = s.Update(2, func(*Session) (*Session, error) { return &Session{Step: 1}, nil })
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("update for key 2 blocked behind key 1")
	}
	close(release)
	<-done
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUnstarted:         "unstarted",
		StateIdentityChallenge: "identity_challenge",
		StateQuestion:          "question",
		StateCompleted:         "completed",
		State(42):              "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
