package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"conductor/internal/domain/backend"
	"conductor/internal/domain/directive"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/selector"
	"conductor/internal/domain/task"
	"conductor/internal/domain/trace"
	"conductor/internal/infra/observability"
	"conductor/internal/shared/logging"
	"conductor/internal/shared/utils/id"
)

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID string
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(runID string) RunOption {
	return func(o *runOptions) { o.runID = runID }
}

// taskState is the engine's per-task bookkeeping for the result.
type taskState struct {
	task       task.Task
	attempts   int
	lastReward float64
	lastArmID  string
	backend    string
	artifactID string
	lastOutput string
	followUps  []string
}

// run is the state of one directive execution.
type run struct {
	id        string
	directive directive.Directive
	queue     *task.Queue
	logger    logging.Logger

	mu          sync.Mutex
	order       []string
	tasks       map[string]*taskState
	artifacts   map[string]ports.Artifact
	artifactSeq []string
	disabled    map[string]*backend.AuthError
	authErrs    []*backend.AuthError
	escalations []Escalation
}

// Run parses input into a directive and executes it until every task is
// terminal or ctx is cancelled. The error is non-nil for an unparsable
// directive or a role without arms (nothing runs), or, after the run, for the
// joined auth failures encountered.
func (e *Engine) Run(ctx context.Context, input any, opts ...RunOption) (Result, error) {
	d, err := directive.Parse(input)
	if err != nil {
		return Result{}, err
	}
	if err := e.prepareArms(d); err != nil {
		return Result{}, err
	}

	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = id.NewRunID()
	}

	r := &run{
		id:        o.runID,
		directive: d,
		queue:     task.NewQueue(task.WithClock(e.now)),
		tasks:     make(map[string]*taskState),
		artifacts: make(map[string]ports.Artifact),
		disabled:  make(map[string]*backend.AuthError),
	}
	ctx = id.WithRunID(ctx, r.id)
	ctx = id.WithDirectiveID(ctx, d.Metadata.ID)
	ctx = id.WithLogID(ctx, r.id)
	r.logger = logging.FromContext(ctx, e.logger)

	started := e.now()
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanDirectiveRun)
	defer span.End()
	e.metrics.RunStarted(ctx)
	defer e.metrics.RunFinished(context.WithoutCancel(ctx))

	// 1. Announce and enqueue the directive's tasks.
	e.emit(r, trace.EventDirectiveStarted, "", map[string]any{
		"title":             d.Metadata.Title,
		"tasks":             len(d.Tasks),
		"approvalThreshold": d.Policies.ApprovalThreshold,
		"maxRetries":        d.Policies.MaxRetries,
		"leadRole":          d.Policies.LeadRole,
	})
	for _, t := range d.Tasks {
		if err := e.enqueue(r, t); err != nil {
			r.logger.Warn("enqueue %s failed: %v", t.ID, err)
		}
	}
	r.logger.Info("run %s started: directive %s with %d tasks", r.id, d.Metadata.ID, len(d.Tasks))

	// 2. Drain the queue with a bounded worker pool.
	var g errgroup.Group
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			e.work(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	// 3. Assemble the result.
	res := e.result(r, started)
	if ctx.Err() != nil && r.queue.Active() > 0 {
		res.Status = RunCancelled
		e.emit(r, trace.EventDirectiveCancelled, "", map[string]any{
			"pending": r.queue.Active(),
			"reason":  ctx.Err().Error(),
		})
	} else {
		e.emit(r, trace.EventDirectiveCompleted, "", statusPayload(res))
	}
	r.logger.Info("run %s %s in %s", r.id, res.Status, res.FinishedAt.Sub(started).Round(time.Millisecond))

	if len(res.AuthFailures) > 0 {
		errs := make([]error, len(res.AuthFailures))
		for i, ae := range res.AuthFailures {
			errs[i] = ae
		}
		return res, fmt.Errorf("run %s: backends disabled: %w", r.id, errors.Join(errs...))
	}
	return res, nil
}

// prepareArms seeds default arms for every role the directive names and fails
// if a task role still has none. The lead role may lack arms; escalation then
// ends at the failing task.
func (e *Engine) prepareArms(d directive.Directive) error {
	for _, role := range d.Roles() {
		e.SeedRole(role)
	}
	var errs []error
	seen := map[string]bool{}
	for _, t := range d.Tasks {
		if seen[t.Role] {
			continue
		}
		seen[t.Role] = true
		if len(e.bandit.Arms(t.Role)) == 0 {
			errs = append(errs, &selector.NoArmsAvailableError{Role: t.Role})
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) work(ctx context.Context, r *run) {
	for ctx.Err() == nil {
		t, ok := r.queue.DequeueReady()
		if ok {
			e.process(ctx, r, t)
			continue
		}
		if r.queue.Active() == 0 {
			return
		}
		if err := r.queue.Wait(ctx, e.cfg.IdlePoll); err != nil {
			return
		}
	}
}

// enqueue registers t and records task.enqueued before the queue can hand it
// to a worker, so every task.running follows its task.enqueued.
func (e *Engine) enqueue(r *run, t task.Task) error {
	r.mu.Lock()
	if _, ok := r.tasks[t.ID]; ok {
		r.mu.Unlock()
		// Known ids are live or terminal in the queue, which rejects them.
		return r.queue.Enqueue(t)
	}
	r.tasks[t.ID] = &taskState{task: t}
	r.order = append(r.order, t.ID)
	r.mu.Unlock()

	e.emit(r, trace.EventTaskEnqueued, t.ID, map[string]any{
		"title":    t.Title,
		"role":     t.Role,
		"parentId": t.ParentID,
		"origin":   string(t.Origin),
	})
	if err := r.queue.Enqueue(t); err != nil {
		r.mu.Lock()
		delete(r.tasks, t.ID)
		for i := len(r.order) - 1; i >= 0; i-- {
			if r.order[i] == t.ID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) emit(r *run, name, taskID string, payload map[string]any) {
	e.trace.Record(trace.Event{
		Timestamp:   e.now(),
		EventName:   name,
		RunID:       r.id,
		DirectiveID: r.directive.Metadata.ID,
		TaskID:      taskID,
		Payload:     payload,
	})
}

func (r *run) state(taskID string) *taskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[taskID]
}

func (r *run) disabledNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.disabled))
	for name := range r.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// disable marks a backend unusable for the rest of the run. It reports false
// when the backend was already disabled.
func (r *run) disable(name string, err *backend.AuthError) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.disabled[name]; ok {
		return false
	}
	r.disabled[name] = err
	r.authErrs = append(r.authErrs, err)
	return true
}

func (e *Engine) result(r *run, started time.Time) Result {
	terminal := r.queue.Terminal()
	live := map[string]task.Status{}
	for _, entry := range r.queue.Pending() {
		live[entry.Task.ID] = entry.Status
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{
		RunID:        r.id,
		DirectiveID:  r.directive.Metadata.ID,
		Status:       RunCompleted,
		StartedAt:    started,
		FinishedAt:   e.now(),
		Escalations:  append([]Escalation(nil), r.escalations...),
		AuthFailures: append([]*backend.AuthError(nil), r.authErrs...),
	}
	for _, taskID := range r.order {
		st := r.tasks[taskID]
		status, ok := terminal[taskID]
		if !ok {
			if status, ok = live[taskID]; !ok {
				status = task.StatusQueued
			}
		}
		res.Tasks = append(res.Tasks, TaskResult{
			Task:       st.task,
			Status:     status,
			Attempts:   st.attempts,
			LastReward: st.lastReward,
			LastArmID:  st.lastArmID,
			Backend:    st.backend,
			ArtifactID: st.artifactID,
			FollowUps:  append([]string(nil), st.followUps...),
		})
	}
	for _, artifactID := range r.artifactSeq {
		res.Artifacts = append(res.Artifacts, r.artifacts[artifactID])
	}
	return res
}

func statusPayload(res Result) map[string]any {
	counts := res.Counts()
	return map[string]any{
		"accepted":    counts[task.StatusAccepted],
		"escalated":   counts[task.StatusEscalated],
		"tasks":       len(res.Tasks),
		"artifacts":   len(res.Artifacts),
		"authFailure": len(res.AuthFailures),
	}
}
