// Package liveness provides the cancellation scope that guards shared state
// against mutation after the owning view has been torn down.
//
// Every asynchronous operation is issued with a Scope. Teardown cancels the
// scope once, centrally; results that arrive afterwards are discarded at the
// commit point instead of mutating state or surfacing errors for a dead view.
package liveness

import (
	"context"
	"time"
)

// Scope is a cancellation token for one view's lifetime.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScope creates a live scope derived from parent.
func NewScope(parent context.Context) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context returns the scope's context for issuing network calls and timers.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Cancel tears the scope down. Safe to call more than once.
func (s *Scope) Cancel() {
	s.cancel()
}

// Cancelled reports whether the scope has been torn down.
func (s *Scope) Cancelled() bool {
	return s.ctx.Err() != nil
}

// Commit runs fn only while the scope is still live. It returns false when
// the scope was already cancelled and fn was skipped. Callers use this at
// the single point where an async result is written into shared state.
func (s *Scope) Commit(fn func()) bool {
	if s.Cancelled() {
		return false
	}
	fn()
	return true
}

// Sleep waits for d or until the scope is cancelled, whichever comes first.
// It returns false when the wait was cut short by cancellation, so backoff
// timers never fire into a torn-down view.
func (s *Scope) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
