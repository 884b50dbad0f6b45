package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	domain "conductor/internal/domain/backend"
	tokenutil "conductor/internal/shared/token"
)

// handle binds a client to its config, rate budget and invocation timeout.
type handle struct {
	cfg     Config
	client  Client
	limiter *rate.Limiter
}

func newHandle(cfg Config, client Client) *handle {
	h := &handle{cfg: cfg, client: client}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return h
}

func (h *handle) Name() string  { return h.cfg.Name }
func (h *handle) Model() string { return h.cfg.Model }

// Invoke waits for the client-side rate budget, then calls the provider under
// the configured timeout.
func (h *handle) Invoke(ctx context.Context, prompt string) (domain.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return domain.Response{}, &domain.TransientError{Backend: h.cfg.Name, Err: fmt.Errorf("rate budget: %w", err)}
		}
	}

	start := time.Now()
	resp, err := h.client.Complete(ctx, domain.Request{
		Prompt:      prompt,
		Temperature: h.cfg.Temperature,
		MaxTokens:   h.cfg.MaxTokens,
	})
	resp.Latency = time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return resp, &domain.TransientError{Backend: h.cfg.Name, Err: err}
		}
		return resp, domain.WrapTransport(h.cfg.Name, err)
	}
	if resp.Usage == nil {
		resp.Usage = &domain.TokenUsage{
			PromptTokens:     tokenutil.EstimateFast(prompt),
			CompletionTokens: tokenutil.EstimateFast(resp.Text),
		}
	}
	return resp, nil
}
