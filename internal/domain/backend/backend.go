// Package backend defines the invoke contract the engine consumes and the
// failure taxonomy every adapter maps provider errors onto.
package backend

import (
	"context"
	"errors"
	"time"

	"conductor/internal/domain/usage"
)

// ErrNoEligibleBackend is returned when no usable backend serves a role.
var ErrNoEligibleBackend = errors.New("no eligible backend")

// ErrUnknownBackend is returned when a preferred backend name is not registered.
var ErrUnknownBackend = errors.New("unknown backend")

// Request is one prompt invocation.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports token counts when the provider returns them.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Response is the result of a successful invocation.
type Response struct {
	Text    string
	Usage   *TokenUsage
	Signal  usage.Signal
	Latency time.Duration
}

// Handle is a callable backend bound to one model.
type Handle interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, prompt string) (Response, error)
}

// Resolver maps a role, and optionally the selector's preferred backend, to a handle.
// Backends named in skip are never returned.
type Resolver interface {
	Resolve(role, preferred string, skip ...string) (Handle, error)
}

type skipKey struct{}

// WithSkip returns a context carrying backend names callers below it must not
// resolve, such as those disabled for the current run.
func WithSkip(ctx context.Context, names ...string) context.Context {
	if len(names) == 0 {
		return ctx
	}
	return context.WithValue(ctx, skipKey{}, append([]string(nil), names...))
}

// SkipFromContext returns the names set by WithSkip.
func SkipFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	names, _ := ctx.Value(skipKey{}).([]string)
	return names
}
