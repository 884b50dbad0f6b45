package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "conductor/internal/domain/backend"
	"conductor/internal/domain/usage"
	"conductor/internal/shared/logging"
)

const maxResponseBytes = 4 << 20

// Client performs one completion against a provider.
type Client interface {
	Complete(ctx context.Context, req domain.Request) (domain.Response, error)
}

// baseClient holds the HTTP plumbing shared by provider clients.
type baseClient struct {
	name       string
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
	now        func() time.Time
}

func newBaseClient(c Config, defaultBaseURL, component string) baseClient {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return baseClient{
		name:       c.Name,
		model:      c.Model,
		apiKey:     c.ResolveAPIKey(),
		baseURL:    baseURL,
		headers:    c.Headers,
		httpClient: &http.Client{Timeout: c.Timeout},
		logger:     logging.NewComponentLogger(component),
		now:        time.Now,
	}
}

// doPost sends a JSON POST. Caller closes resp.Body.
func (c *baseClient) doPost(ctx context.Context, endpoint string, body []byte, auth func(http.Header)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req.Header)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.logger.Debug("POST %s model=%s bytes=%d", endpoint, c.model, len(body))
	return c.httpClient.Do(req)
}

// exchange posts body and returns the response bytes and normalized usage signal,
// mapping non-2xx statuses onto the backend failure taxonomy.
func (c *baseClient) exchange(ctx context.Context, endpoint string, body []byte, auth func(http.Header)) ([]byte, usage.Signal, error) {
	resp, err := c.doPost(ctx, endpoint, body, auth)
	if err != nil {
		return nil, usage.Signal{}, &domain.TransientError{Backend: c.name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	signal := usage.FromHeaders(resp.Header, c.now())
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, signal, &domain.TransientError{Backend: c.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		mapped := mapHTTPError(c.name, resp.StatusCode, respBody, signal)
		c.logger.Warn("backend %s returned %d: %v", c.name, resp.StatusCode, mapped)
		return nil, signal, mapped
	}
	return respBody, signal, nil
}

// mapHTTPError converts a provider status into a typed failure.
func mapHTTPError(name string, status int, body []byte, signal usage.Signal) error {
	cause := fmt.Errorf("http %d: %s", status, summarizeBody(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.AuthError{Backend: name, StatusCode: status, Err: cause}
	case status == http.StatusTooManyRequests:
		if signal.Empty() {
			signal.RetryAfterSeconds = usage.Int(1)
		}
		return &domain.RateLimitError{Backend: name, StatusCode: status, Signal: signal, Err: cause}
	default:
		return &domain.TransientError{Backend: name, StatusCode: status, Err: cause}
	}
}

func summarizeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "(empty body)"
	}
	const limit = 300
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}
