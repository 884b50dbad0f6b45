// Package engine runs directives: a worker pool drains each run's task queue,
// routing every task through arm selection, backend resolution, retrieval,
// rendering, invocation and evaluation before deciding to accept, retry or
// escalate it.
package engine

import (
	"fmt"
	"time"

	"conductor/internal/domain/backend"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/selector"
	"conductor/internal/domain/trace"
	"conductor/internal/domain/usage"
	"conductor/internal/infra/observability"
	"conductor/internal/shared/logging"
)

const (
	DefaultConcurrency   = 4
	DefaultInvokeTimeout = 2 * time.Minute
	DefaultRetryBackoff  = 2 * time.Second
	DefaultIdlePoll      = 250 * time.Millisecond

	// EscalationTemplate is the prompt template assigned to escalation tasks.
	EscalationTemplate = "escalation"
	escalationPrefix   = "esc:"
	autoArmSuffix      = "auto"
)

// Config bounds the worker pool and retry timing.
type Config struct {
	Concurrency   int
	InvokeTimeout time.Duration
	RetryBackoff  time.Duration
	IdlePoll      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = DefaultInvokeTimeout
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = DefaultIdlePoll
	}
	return c
}

// Registry resolves backends and reports which backends serve a role.
type Registry interface {
	backend.Resolver
	Eligible(role string) []string
}

// Deps are the process-wide services a run consumes. Bandit, Ledger and
// Registry are shared by every concurrent run.
type Deps struct {
	Bandit    *selector.Bandit
	Ledger    *usage.Ledger
	Registry  Registry
	Evaluator ports.Evaluator
	Retriever ports.Retriever
	Renderer  ports.PromptRenderer
	Trace     trace.Recorder
	Metrics   *observability.Metrics
	Tracer    *observability.TracerProvider
	Logger    logging.Logger
	Clock     func() time.Time
}

// Engine executes directives against shared selector and usage state.
type Engine struct {
	cfg       Config
	bandit    *selector.Bandit
	ledger    *usage.Ledger
	registry  Registry
	evaluator ports.Evaluator
	retriever ports.Retriever
	renderer  ports.PromptRenderer
	trace     trace.Recorder
	metrics   *observability.Metrics
	tracer    *observability.TracerProvider
	logger    logging.Logger
	now       func() time.Time
}

// New validates deps and seeds any configured arms.
func New(cfg Config, deps Deps, arms ...selector.Arm) (*Engine, error) {
	if deps.Bandit == nil {
		return nil, fmt.Errorf("engine: bandit is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("engine: backend registry is required")
	}
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("engine: evaluator is required")
	}
	if deps.Ledger == nil {
		deps.Ledger = usage.NewLedger()
	}
	if deps.Retriever == nil {
		deps.Retriever = noopRetriever{}
	}
	if deps.Renderer == nil {
		deps.Renderer = jsonRenderer{}
	}
	if deps.Trace == nil {
		deps.Trace = trace.Nop{}
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NoopTracer()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := &Engine{
		cfg:       cfg.withDefaults(),
		bandit:    deps.Bandit,
		ledger:    deps.Ledger,
		registry:  deps.Registry,
		evaluator: deps.Evaluator,
		retriever: deps.Retriever,
		renderer:  deps.Renderer,
		trace:     deps.Trace,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    logging.OrNop(deps.Logger),
		now:       deps.Clock,
	}
	for _, arm := range arms {
		if arm.ID == "" || arm.Role == "" {
			return nil, fmt.Errorf("engine: arm requires id and role")
		}
		e.bandit.Seed(arm)
	}
	return e, nil
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Bandit returns the shared selector.
func (e *Engine) Bandit() *selector.Bandit { return e.bandit }

// Ledger returns the shared usage ledger.
func (e *Engine) Ledger() *usage.Ledger { return e.ledger }

// SeedRole registers the default arms for role: one ledger-ranked arm plus one
// arm pinned to each eligible backend. It reports how many arms were added.
func (e *Engine) SeedRole(role string) int {
	eligible := e.registry.Eligible(role)
	if len(eligible) == 0 {
		return 0
	}
	added := 0
	if e.bandit.Seed(selector.Arm{ID: role + ":" + autoArmSuffix, Role: role}) {
		added++
	}
	for _, name := range eligible {
		if e.bandit.Seed(selector.Arm{ID: role + ":" + name, Role: role, BackendName: name}) {
			added++
		}
	}
	if added > 0 {
		e.logger.Debug("seeded %d arms for role %s", added, role)
	}
	return added
}
