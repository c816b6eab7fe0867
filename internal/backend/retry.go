package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcanaday/arcana-session/internal/liveness"
)

// Policy is the reusable retry contract applied to every logical backend
// operation: a bounded number of extra attempts, a fixed backoff between
// them, and an optional per-attempt timeout.
type Policy struct {
	Retries int           // extra attempts beyond the first
	Backoff time.Duration // fixed wait between attempts
	Timeout time.Duration // per-attempt budget; 0 = no timeout
}

// DefaultPolicy is used for light calls: two extra attempts, one-second
// backoff, no per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{Retries: 2, Backoff: time.Second}
}

// ReadingPolicy bounds the heavier content-generation calls.
func ReadingPolicy() Policy {
	return Policy{Retries: 2, Backoff: time.Second, Timeout: 15 * time.Second}
}

// Do runs op under the policy. Attempts are strictly sequential; op receives
// a context derived from the scope (plus the per-attempt timeout when set),
// so an attempt still in flight when its budget elapses is actively aborted.
// Only transport and timeout failures are retried. On exhaustion the last
// observed failure is returned. A cancelled scope short-circuits to a stale
// failure so no result is ever committed for a torn-down view.
func (p Policy) Do(scope *liveness.Scope, logger *slog.Logger, name string, op func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var last error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if scope.Cancelled() {
			return staleFailure()
		}

		ctx := scope.Context()
		cancel := func() {}
		if p.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := op(ctx)
		cancel()

		if err == nil {
			return nil
		}
		if scope.Cancelled() {
			// The attempt lost a race with teardown; whatever it produced
			// must not surface.
			return staleFailure()
		}

		f, ok := AsFailure(err)
		if !ok || !f.Retryable() {
			return err
		}
		last = err

		if attempt < p.Retries {
			logger.Warn("backend call failed, retrying",
				"op", name,
				"attempt", attempt+1,
				"backoff", p.Backoff,
				"error", err,
			)
			if !scope.Sleep(p.Backoff) {
				return staleFailure()
			}
		}
	}

	logger.Error("backend call exhausted retry budget", "op", name, "attempts", p.Retries+1, "error", last)
	return last
}
