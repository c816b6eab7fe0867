package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a network operation failure.
type Kind int

const (
	// KindTransport means no usable response arrived (network unreachable,
	// connection reset, malformed body). Retryable.
	KindTransport Kind = iota
	// KindTimeout means the response did not arrive within the call budget.
	// The underlying request is aborted, not abandoned. Retryable.
	KindTimeout
	// KindRejected means the backend returned a well-formed non-2xx response.
	// Retrying a rejected business rule will not succeed; never retried.
	KindRejected
	// KindStale means the result arrived after the owning view was torn
	// down. Swallowed by callers, never user-visible.
	KindStale
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	case KindStale:
		return "stale"
	}
	return "unknown"
}

// Failure is the single error type surfaced by the backend client. Message is
// human-readable and already distinguishes "unable to reach server" from an
// application-level rejection.
type Failure struct {
	Kind    Kind
	Status  int // HTTP status for KindRejected, 0 otherwise
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether the failure is worth another physical attempt.
func (f *Failure) Retryable() bool {
	return f.Kind == KindTransport || f.Kind == KindTimeout
}

// AsFailure extracts a *Failure from err, if there is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsStale reports whether err is a stale-result failure.
func IsStale(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == KindStale
}

// IsRejected reports whether err is an application-level rejection.
func IsRejected(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == KindRejected
}

const unreachableMessage = "unable to reach server"

// ErrStale is the failure reported when a result arrives after the owning
// view was torn down. Callers swallow it; it is never shown to the user.
var ErrStale = &Failure{Kind: KindStale, Message: "view torn down"}

func transportFailure(err error) *Failure {
	return &Failure{Kind: KindTransport, Message: unreachableMessage, Err: err}
}

func timeoutFailure(err error) *Failure {
	return &Failure{Kind: KindTimeout, Message: unreachableMessage, Err: err}
}

func staleFailure() *Failure {
	return ErrStale
}
