// Package scheduler submits directive files on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/robfig/cron/v3"

	"conductor/internal/app/runs"
	"conductor/internal/shared/logging"
)

// Trigger runs the directive stored at Path whenever Schedule fires.
type Trigger struct {
	Name     string
	Schedule string
	Path     string
}

// Submitter starts a run. *runs.Service satisfies it.
type Submitter interface {
	Submit(input any, source string) (runs.Record, error)
}

// Scheduler owns a robfig/cron instance with one entry per trigger.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    logging.Logger

	mu       sync.Mutex
	entryIDs map[string]cron.EntryID
	last     map[string]string
	stopped  chan struct{}
	stopOnce sync.Once
	readFile func(string) ([]byte, error)
}

// New creates a scheduler. Overlapping fires of one trigger are skipped.
func New(submitter Submitter, logger logging.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		submitter: submitter,
		logger:    logging.OrNop(logger),
		entryIDs:  make(map[string]cron.EntryID),
		last:      make(map[string]string),
		stopped:   make(chan struct{}),
		readFile:  os.ReadFile,
	}
}

// Register adds a trigger. Registering an existing name is a no-op.
func (s *Scheduler) Register(t Trigger) error {
	if t.Schedule == "" {
		return fmt.Errorf("trigger %q has no schedule", t.Name)
	}
	if t.Path == "" {
		return fmt.Errorf("trigger %q has no directive path", t.Name)
	}
	if t.Name == "" {
		t.Name = t.Path
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entryIDs[t.Name]; exists {
		return nil
	}
	entryID, err := s.cron.AddFunc(t.Schedule, func() { s.Fire(t) })
	if err != nil {
		return fmt.Errorf("invalid cron expression for %q: %w", t.Name, err)
	}
	s.entryIDs[t.Name] = entryID
	s.logger.Info("registered trigger %q (schedule=%s, directive=%s)", t.Name, t.Schedule, t.Path)
	return nil
}

// Fire reads the trigger's directive and submits it. The directive is
// re-read on every fire so edits take effect without a restart.
func (s *Scheduler) Fire(t Trigger) {
	data, err := s.readFile(t.Path)
	if err != nil {
		s.logger.Warn("trigger %q: read %s: %v", t.Name, t.Path, err)
		return
	}
	rec, err := s.submitter.Submit(data, "schedule:"+t.Name)
	if err != nil {
		s.logger.Warn("trigger %q: submit failed: %v", t.Name, err)
		return
	}
	s.mu.Lock()
	s.last[t.Name] = rec.ID
	s.mu.Unlock()
}

// LastRun returns the run id most recently started by the named trigger.
func (s *Scheduler) LastRun(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, ok := s.last[name]
	return runID, ok
}

// Entries returns the number of registered triggers.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entryIDs)
}

// Start begins dispatching and stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started with %d triggers", s.Entries())
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop waits for running jobs to return. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.stopped)
		s.logger.Info("scheduler stopped")
	})
}

// Done is closed once the scheduler has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}
