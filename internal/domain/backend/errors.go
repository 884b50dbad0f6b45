package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"conductor/internal/domain/usage"
)

// AuthError is a credential or permission failure. It is never retried.
type AuthError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s: authentication failed (status %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: authentication failed: %v", e.Backend, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError carries the usage signal so callers can feed the ledger before retrying.
type RateLimitError struct {
	Backend    string
	StatusCode int
	Signal     usage.Signal
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Signal.RetryAfterSeconds != nil {
		return fmt.Sprintf("backend %s: rate limited, retry after %ds: %v", e.Backend, *e.Signal.RetryAfterSeconds, e.Err)
	}
	return fmt.Sprintf("backend %s: rate limited: %v", e.Backend, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError is a network, timeout or server failure eligible for retry.
type TransientError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s: transient failure (status %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: transient failure: %v", e.Backend, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Kind is the engine-facing classification of an invocation failure.
type Kind string

const (
	KindNone      Kind = ""
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindTransient Kind = "transient"
)

// Classify maps err onto the failure taxonomy. Unrecognized errors are transient.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return KindAuth
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return KindRateLimit
	}
	return KindTransient
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool { return Classify(err) == KindAuth }

// AsRateLimit extracts a RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr, true
	}
	return nil, false
}

// AsAuth extracts an AuthError from err.
func AsAuth(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// WrapTransport converts a transport-level failure into a TransientError.
// Typed backend errors pass through unchanged.
func WrapTransport(backend string, err error) error {
	if err == nil || Classify(err) != KindTransient {
		return err
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return err
	}
	return &TransientError{Backend: backend, Err: err}
}

// IsNetworkError reports timeouts, refused connections and similar transport failures.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
