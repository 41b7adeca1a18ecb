package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{name: "nil", err: nil, expect: false},
		{name: "busy message", err: errors.New("exec: SQLITE_BUSY"), expect: true},
		{name: "locked message", err: fmt.Errorf("insert: %w", errors.New("database is locked")), expect: true},
		{name: "other", err: errors.New("no such table: answers"), expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsSQLiteConflictError(tt.err); got != tt.expect {
				t.Fatalf("expected %v, got %v", tt.expect, got)
			}
		})
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after busy", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := RetryOnConflict(context.Background(), policy, "store answer", func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := RetryOnConflict(context.Background(), policy, "store answer", func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		t.Parallel()
		sentinel := errors.New("boom")
		calls := 0
		err := RetryOnConflict(context.Background(), policy, "store answer", func() error {
			calls++
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected sentinel error, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected 1 call, got %d", calls)
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryOnConflict(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, "store answer", func() error {
			return errors.New("SQLITE_BUSY")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
