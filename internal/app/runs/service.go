// Package runs tracks asynchronous directive runs for the server, CLI and
// scheduler.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"conductor/internal/app/engine"
	"conductor/internal/domain/directive"
	"conductor/internal/shared/async"
	"conductor/internal/shared/logging"
	"conductor/internal/shared/utils/id"
)

// Status is the lifecycle of a submitted run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Record is the externally visible state of a run.
type Record struct {
	ID          string         `json:"id"`
	DirectiveID string         `json:"directiveId"`
	Title       string         `json:"title,omitempty"`
	Source      string         `json:"source,omitempty"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	Result      *engine.Result `json:"result,omitempty"`
}

// Runner executes one directive. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, input any, opts ...engine.RunOption) (engine.Result, error)
}

type entry struct {
	record Record
	cancel context.CancelFunc
	done   chan struct{}
}

// Service starts runs in the background and keeps their records.
type Service struct {
	runner Runner
	logger logging.Logger

	mu   sync.RWMutex
	runs map[string]*entry

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewService constructs a service whose runs are cancelled by Close.
func NewService(runner Runner, logger logging.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner:  runner,
		logger:  logging.OrNop(logger),
		runs:    make(map[string]*entry),
		baseCtx: ctx,
		stop:    cancel,
	}
}

// Submit parses input and starts the run. Parse failures are returned
// synchronously and no run is recorded.
func (s *Service) Submit(input any, source string) (Record, error) {
	d, err := directive.Parse(input)
	if err != nil {
		return Record{}, err
	}
	runID := id.NewRunID()
	ctx, cancel := context.WithCancel(s.baseCtx)
	e := &entry{
		record: Record{
			ID:          runID,
			DirectiveID: d.Metadata.ID,
			Title:       d.Metadata.Title,
			Source:      source,
			Status:      StatusRunning,
			StartedAt:   time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[runID] = e
	s.mu.Unlock()

	s.wg.Add(1)
	async.Go(s.logger, "run:"+runID, func() {
		defer s.wg.Done()
		defer close(e.done)
		defer cancel()
		res, runErr := s.runner.Run(ctx, d, engine.WithRunID(runID))
		s.finish(runID, res, runErr)
	})
	s.logger.Info("submitted run %s for directive %s (%s)", runID, d.Metadata.ID, source)
	return e.record, nil
}

func (s *Service) finish(runID string, res engine.Result, runErr error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[runID]
	if !ok {
		return
	}
	e.record.FinishedAt = &now
	switch {
	case res.RunID == "" && runErr != nil:
		e.record.Status = StatusFailed
	case res.Status == engine.RunCancelled:
		e.record.Status = StatusCancelled
	default:
		e.record.Status = StatusCompleted
	}
	if runErr != nil {
		e.record.Error = runErr.Error()
	}
	if res.RunID != "" {
		r := res
		e.record.Result = &r
	}
}

// Get returns the record for runID.
func (s *Service) Get(runID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[runID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return e.record, nil
}

// List returns every record, newest first.
func (s *Service) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.runs))
	for _, e := range s.runs {
		rec := e.record
		rec.Result = nil
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel signals a running run to stop dequeuing.
func (s *Service) Cancel(runID string) error {
	s.mu.RLock()
	e, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	e.cancel()
	return nil
}

// Wait blocks until runID finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, runID string) (Record, error) {
	s.mu.RLock()
	e, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	select {
	case <-e.done:
		return s.Get(runID)
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Close cancels every run and waits for them to return.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}
