// Package di wires the engine and its collaborators from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conductor/internal/app/engine"
	"conductor/internal/app/runs"
	"conductor/internal/app/scheduler"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/selector"
	"conductor/internal/domain/trace"
	"conductor/internal/domain/usage"
	"conductor/internal/infra/armstore"
	"conductor/internal/infra/backend"
	"conductor/internal/infra/evaluator"
	"conductor/internal/infra/filestore"
	"conductor/internal/infra/observability"
	"conductor/internal/infra/prompts"
	"conductor/internal/infra/retriever"
	"conductor/internal/shared/config"
	"conductor/internal/shared/logging"
)

// Container holds the process-wide services.
type Container struct {
	Config    config.Config
	Ledger    *usage.Ledger
	Registry  *backend.Registry
	Bandit    *selector.Bandit
	ArmStore  *armstore.FileStore
	Evaluator ports.Evaluator
	Retriever ports.Retriever
	Renderer  *prompts.Renderer
	Trace     *trace.Sink
	Metrics   *observability.Metrics
	Tracer    *observability.TracerProvider
	Engine    *engine.Engine
	Runs      *runs.Service
	Scheduler *scheduler.Scheduler
	Degraded  *Degraded

	logger logging.Logger
}

// Options adjust container construction.
type Options struct {
	// SkipTraceFile keeps trace events in memory only.
	SkipTraceFile bool
	// SkipScheduler leaves configured schedules unregistered.
	SkipScheduler bool
}

// Build constructs every service described by cfg.
func Build(cfg config.Config, opts Options) (*Container, error) {
	observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	c := &Container{
		Config:    cfg,
		Degraded:  newDegraded(),
		Retriever: retriever.Noop{},
		Tracer:    observability.NoopTracer(),
		logger:    logging.NewComponentLogger("di"),
	}

	stages := []Stage{
		{Name: "metrics", Init: c.initMetrics},
		{Name: "tracing", Init: c.initTracing},
		{Name: "trace", Required: true, Init: func() error { return c.initTrace(opts.SkipTraceFile) }},
		{Name: "backends", Required: true, Init: c.initBackends},
		{Name: "selector", Required: true, Init: c.initSelector},
		{Name: "evaluator", Required: true, Init: c.initEvaluator},
		{Name: "retriever", Init: c.initRetriever},
		{Name: "prompts", Required: true, Init: c.initPrompts},
		{Name: "engine", Required: true, Init: c.initEngine},
	}
	if !opts.SkipScheduler {
		stages = append(stages, Stage{Name: "scheduler", Init: c.initScheduler})
	}
	if err := runStages(stages, c.Degraded, c.logger); err != nil {
		c.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) initMetrics() error {
	m, err := observability.NewMetrics(observability.MetricsConfig{Enabled: c.Config.Observability.Metrics.Enabled})
	if err != nil {
		return err
	}
	c.Metrics = m
	return nil
}

func (c *Container) initTracing() error {
	tc := c.Config.Observability.Tracing
	tp, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        tc.Enabled,
		Exporter:       tc.Exporter,
		OTLPEndpoint:   tc.OTLPEndpoint,
		ZipkinEndpoint: tc.ZipkinEndpoint,
		SampleRate:     tc.SampleRate,
	})
	if err != nil {
		return err
	}
	c.Tracer = tp
	return nil
}

func (c *Container) initTrace(memoryOnly bool) error {
	opts := []trace.SinkOption{
		trace.WithLogger(logging.NewComponentLogger("trace")),
		trace.WithSubscriberBuffer(c.Config.Trace.SubscriberBuffer),
	}
	if memoryOnly || c.Config.Trace.Path == "" {
		c.Trace = trace.NewSink(nil, opts...)
		return nil
	}
	sink, err := trace.OpenFile(filestore.ResolvePath(c.Config.Trace.Path, ""), opts...)
	if err != nil {
		return err
	}
	c.Trace = sink
	return nil
}

func (c *Container) initBackends() error {
	c.Ledger = usage.NewLedger(usage.WithLogger(logging.NewComponentLogger("usage")))
	configs := make([]backend.Config, 0, len(c.Config.Backends))
	for _, b := range c.Config.Backends {
		configs = append(configs, backend.Config{
			Name:              b.Name,
			Provider:          b.Provider,
			Model:             b.Model,
			BaseURL:           b.BaseURL,
			APIKeyEnv:         b.APIKeyEnv,
			Roles:             b.Roles,
			RequestsPerSecond: b.RequestsPerSecond,
			Burst:             b.Burst,
			Temperature:       b.Temperature,
			MaxTokens:         b.MaxTokens,
			MockResponse:      b.MockResponse,
			Timeout:           b.Timeout,
		})
	}
	reg, err := backend.NewRegistryFromConfig(configs, c.Ledger, logging.NewComponentLogger("backend"))
	if err != nil {
		return err
	}
	c.Registry = reg
	return nil
}

func (c *Container) initSelector() error {
	opts := []selector.Option{
		selector.WithEpsilon(c.Config.Selector.Epsilon),
		selector.WithLogger(logging.NewComponentLogger("selector")),
	}
	if c.Config.Selector.Seed != 0 {
		opts = append(opts, selector.WithSeed(c.Config.Selector.Seed))
	}
	if c.Config.Selector.StatePath != "" {
		c.ArmStore = armstore.NewFileStore(c.Config.Selector.StatePath)
		opts = append(opts, selector.WithStore(c.ArmStore))
	}
	c.Bandit = selector.NewBandit(opts...)
	return c.Bandit.Load()
}

func (c *Container) initEvaluator() error {
	ev, err := evaluator.New(evaluator.Config{
		Kind:         c.Config.Evaluator.Kind,
		StaticReward: c.Config.Evaluator.StaticReward,
		JudgeBackend: c.Config.Evaluator.JudgeBackend,
	}, c.Registry, c.Ledger, logging.NewComponentLogger("evaluator"))
	if err != nil {
		return err
	}
	c.Evaluator = ev
	return nil
}

func (c *Container) initRetriever() error {
	rc := c.Config.Retriever
	r, err := retriever.New(retriever.Config{
		Kind:             rc.Kind,
		PersistPath:      filestore.ResolvePath(rc.PersistPath, ""),
		Collection:       rc.Collection,
		TopK:             rc.TopK,
		MinSimilarity:    rc.MinSimilarity,
		Embedder:         rc.Embedder,
		MaxContextTokens: rc.MaxContextTokens,
		FetchURLs:        rc.FetchURLs,
	}, logging.NewComponentLogger("retriever"))
	if err != nil {
		return err
	}
	c.Retriever = r
	return nil
}

func (c *Container) initPrompts() error {
	r, err := prompts.NewRenderer(filestore.ResolvePath(c.Config.Prompts.Dir, ""), c.Config.Prompts.CacheSize)
	if err != nil {
		return err
	}
	c.Renderer = r
	return nil
}

func (c *Container) initEngine() error {
	arms := make([]selector.Arm, 0, len(c.Config.Arms))
	for _, a := range c.Config.Arms {
		arms = append(arms, selector.Arm{
			ID:            a.ID,
			Role:          a.Role,
			BackendName:   a.Backend,
			PromptVariant: a.PromptVariant,
		})
	}
	ec := c.Config.Engine
	e, err := engine.New(engine.Config{
		Concurrency:   ec.Concurrency,
		InvokeTimeout: ec.InvokeTimeout,
		RetryBackoff:  ec.RetryBackoff,
		IdlePoll:      ec.IdlePoll,
	}, engine.Deps{
		Bandit:    c.Bandit,
		Ledger:    c.Ledger,
		Registry:  c.Registry,
		Evaluator: c.Evaluator,
		Retriever: c.Retriever,
		Renderer:  c.Renderer,
		Trace:     c.Trace,
		Metrics:   c.Metrics,
		Tracer:    c.Tracer,
		Logger:    logging.NewComponentLogger("engine"),
	}, arms...)
	if err != nil {
		return err
	}
	c.Engine = e
	c.Runs = runs.NewService(e, logging.NewComponentLogger("runs"))
	return nil
}

func (c *Container) initScheduler() error {
	if len(c.Config.Schedules) == 0 {
		return nil
	}
	s := scheduler.New(c.Runs, logging.NewComponentLogger("scheduler"))
	var errs []error
	for _, sc := range c.Config.Schedules {
		if err := s.Register(scheduler.Trigger{Name: sc.Name, Schedule: sc.Schedule, Path: sc.Directive}); err != nil {
			errs = append(errs, err)
		}
	}
	c.Scheduler = s
	return errors.Join(errs...)
}

// Start launches background services bound to ctx.
func (c *Container) Start(ctx context.Context) {
	if c.Scheduler != nil {
		c.Scheduler.Start(ctx)
	}
}

// Shutdown stops background work and flushes persistent state.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Runs != nil {
		c.Runs.Close()
	}
	if c.Bandit != nil {
		if err := c.Bandit.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Trace != nil {
		if err := c.Trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace: %w", err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Tracer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := c.Metrics.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
