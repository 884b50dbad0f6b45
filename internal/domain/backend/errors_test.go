package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"conductor/internal/domain/usage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "auth", err: &AuthError{Backend: "a", StatusCode: 401, Err: errors.New("bad key")}, want: KindAuth},
		{name: "wrapped auth", err: fmt.Errorf("invoke: %w", &AuthError{Backend: "a"}), want: KindAuth},
		{name: "rate limit", err: &RateLimitError{Backend: "a", Signal: usage.Signal{RetryAfterSeconds: usage.Int(3)}}, want: KindRateLimit},
		{name: "transient", err: &TransientError{Backend: "a", StatusCode: 503}, want: KindTransient},
		{name: "unknown", err: errors.New("weird"), want: KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsRateLimitExposesSignal(t *testing.T) {
	err := fmt.Errorf("call: %w", &RateLimitError{Backend: "a", Signal: usage.Signal{RetryAfterSeconds: usage.Int(30)}})
	rl, ok := AsRateLimit(err)
	if !ok || *rl.Signal.RetryAfterSeconds != 30 {
		t.Fatalf("expected signal, got %v %v", rl, ok)
	}
	if _, ok := AsAuth(err); ok {
		t.Fatalf("rate limit is not auth")
	}
}

func TestWrapTransport(t *testing.T) {
	wrapped := WrapTransport("a", context.DeadlineExceeded)
	var transient *TransientError
	if !errors.As(wrapped, &transient) || transient.Backend != "a" {
		t.Fatalf("expected transient wrapper, got %v", wrapped)
	}
	auth := &AuthError{Backend: "a"}
	if WrapTransport("a", auth) != error(auth) {
		t.Fatalf("typed errors must pass through")
	}
	if !IsNetworkError(context.DeadlineExceeded) || IsNetworkError(errors.New("x")) {
		t.Fatalf("unexpected network classification")
	}
}
