package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	validProviders  = map[string]bool{"openai": true, "anthropic": true, "mock": true}
	validEvaluators = map[string]bool{"criteria": true, "judge": true, "static": true}
	validRetrievers = map[string]bool{"noop": true, "chromem": true, "web": true}
)

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Engine.Concurrency < 1 {
		add("engine.concurrency must be >= 1, got %d", c.Engine.Concurrency)
	}
	if c.Engine.InvokeTimeout <= 0 {
		add("engine.invoke_timeout must be positive")
	}
	if c.Engine.RetryBackoff < 0 {
		add("engine.retry_backoff must not be negative")
	}
	if c.Engine.IdlePoll <= 0 {
		add("engine.idle_poll must be positive")
	}
	if c.Selector.Epsilon < 0 || c.Selector.Epsilon > 1 {
		add("selector.epsilon must be in [0,1], got %v", c.Selector.Epsilon)
	}

	names := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		switch {
		case strings.TrimSpace(b.Name) == "":
			add("backends[%d].name is required", i)
		case names[b.Name]:
			add("backends[%d]: duplicate name %q", i, b.Name)
		}
		names[b.Name] = true
		if !validProviders[b.Provider] {
			add("backends[%d]: unknown provider %q", i, b.Provider)
		}
		if b.RequestsPerSecond < 0 {
			add("backends[%d].requests_per_second must not be negative", i)
		}
	}

	armIDs := make(map[string]bool, len(c.Arms))
	for i, a := range c.Arms {
		if a.ID == "" || a.Role == "" {
			add("arms[%d]: id and role are required", i)
		}
		if armIDs[a.ID] {
			add("arms[%d]: duplicate id %q", i, a.ID)
		}
		armIDs[a.ID] = true
		if a.Backend != "" && !names[a.Backend] {
			add("arms[%d]: unknown backend %q", i, a.Backend)
		}
	}

	if !validEvaluators[c.Evaluator.Kind] {
		add("evaluator.kind: unknown kind %q", c.Evaluator.Kind)
	}
	if c.Evaluator.Kind == "judge" && c.Evaluator.JudgeBackend != "" && !names[c.Evaluator.JudgeBackend] {
		add("evaluator.judge_backend: unknown backend %q", c.Evaluator.JudgeBackend)
	}
	if c.Evaluator.StaticReward < 0 || c.Evaluator.StaticReward > 1 {
		add("evaluator.static_reward must be in [0,1]")
	}
	if !validRetrievers[c.Retriever.Kind] {
		add("retriever.kind: unknown kind %q", c.Retriever.Kind)
	}

	for i, s := range c.Schedules {
		if s.Schedule == "" || s.Directive == "" {
			add("schedules[%d]: schedule and directive are required", i)
		}
	}
	return errors.Join(errs...)
}
