package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcanaday/arcana-session/internal/liveness"
)

func testPolicy(retries int) Policy {
	return Policy{Retries: retries, Backoff: time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	attempts := 0
	err := testPolicy(2).Do(scope, nil, "op", func(ctx context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestDoRetriesTransportFailures(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	attempts := 0
	err := testPolicy(2).Do(scope, nil, "op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return transportFailure(errors.New("connection refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected recovery on the last attempt, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 physical attempts, got %d", attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	attempts := 0
	err := testPolicy(2).Do(scope, nil, "op", func(ctx context.Context) error {
		attempts++
		return timeoutFailure(context.DeadlineExceeded)
	})
	if attempts != 3 {
		t.Errorf("Expected 3 physical attempts, got %d", attempts)
	}
	f, ok := AsFailure(err)
	if !ok || f.Kind != KindTimeout {
		t.Errorf("Expected the last timeout failure, got %v", err)
	}
}

func TestDoNeverRetriesRejections(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	attempts := 0
	err := testPolicy(2).Do(scope, nil, "op", func(ctx context.Context) error {
		attempts++
		return &Failure{Kind: KindRejected, Status: 400, Message: "bad input"}
	})
	if attempts != 1 {
		t.Errorf("Rejection should not be retried, got %d attempts", attempts)
	}
	if !IsRejected(err) {
		t.Errorf("Expected rejection, got %v", err)
	}
}

func TestDoCancelledScopeShortCircuits(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	scope.Cancel()
	attempts := 0
	err := testPolicy(2).Do(scope, nil, "op", func(ctx context.Context) error {
		attempts++
		return nil
	})
	if attempts != 0 {
		t.Errorf("No attempt should run on a cancelled scope, got %d", attempts)
	}
	if !IsStale(err) {
		t.Errorf("Expected stale failure, got %v", err)
	}
}

func TestDoCancelDuringAttemptIsStale(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	err := testPolicy(2).Do(scope, nil, "op", func(ctx context.Context) error {
		// Teardown races the attempt; its result must not surface.
		scope.Cancel()
		return nil
	})
	if !IsStale(err) {
		t.Errorf("Expected stale failure after mid-attempt teardown, got %v", err)
	}
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	scope := liveness.NewScope(context.Background())
	p := Policy{Retries: 1, Backoff: time.Millisecond, Timeout: 10 * time.Millisecond}
	attempts := 0
	err := p.Do(scope, nil, "op", func(ctx context.Context) error {
		attempts++
		select {
		case <-ctx.Done():
			return timeoutFailure(ctx.Err())
		case <-time.After(time.Second):
			return nil
		}
	})
	if attempts != 2 {
		t.Errorf("Expected both attempts to time out, got %d", attempts)
	}
	f, ok := AsFailure(err)
	if !ok || f.Kind != KindTimeout {
		t.Errorf("Expected timeout failure, got %v", err)
	}
}
