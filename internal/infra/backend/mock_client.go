package backend

import (
	"context"
	"strings"
	"sync"

	domain "conductor/internal/domain/backend"
	"conductor/internal/domain/usage"
)

// StaticClient returns the same text for every prompt. An empty text echoes
// the first prompt line.
type StaticClient struct {
	text string
}

// NewStaticClient constructs a deterministic offline client.
func NewStaticClient(text string) *StaticClient {
	return &StaticClient{text: text}
}

func (c *StaticClient) Complete(ctx context.Context, req domain.Request) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	if c.text != "" {
		return domain.Response{Text: c.text}, nil
	}
	first, _, _ := strings.Cut(strings.TrimSpace(req.Prompt), "\n")
	return domain.Response{Text: "mock response: " + first}, nil
}

// Step is one scripted outcome.
type Step struct {
	Text   string
	Signal usage.Signal
	Err    error
}

// ScriptedClient replays steps in order and repeats the last one.
type ScriptedClient struct {
	mu      sync.Mutex
	steps   []Step
	calls   int
	prompts []string
}

// NewScriptedClient constructs a client that replays steps.
func NewScriptedClient(steps ...Step) *ScriptedClient {
	if len(steps) == 0 {
		steps = []Step{{Text: "ok"}}
	}
	return &ScriptedClient{steps: steps}
}

func (c *ScriptedClient) Complete(ctx context.Context, req domain.Request) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	c.mu.Lock()
	idx := c.calls
	if idx >= len(c.steps) {
		idx = len(c.steps) - 1
	}
	step := c.steps[idx]
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()

	if step.Err != nil {
		return domain.Response{Signal: step.Signal}, step.Err
	}
	return domain.Response{Text: step.Text, Signal: step.Signal}, nil
}

// Calls returns how many completions were requested.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Prompts returns every prompt received.
func (c *ScriptedClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}
