package task

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"
)

var transitions = map[Status][]Status{
	StatusQueued:   {StatusRunning},
	StatusRunning:  {StatusRetrying, StatusAccepted, StatusEscalated},
	StatusRetrying: {StatusQueued},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type entry struct {
	task   Task
	status Status
	dueAt  time.Time
	seq    uint64
}

// Entry is a read-only view of a live or terminal task.
type Entry struct {
	Task   Task      `json:"task"`
	Status Status    `json:"status"`
	DueAt  time.Time `json:"dueAt,omitempty"`
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock overrides the queue time source.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue owns task lifecycle for one directive run. Ready tasks are served FIFO;
// delayed tasks become ready in due-time order.
type Queue struct {
	mu       sync.Mutex
	now      func() time.Time
	live     map[string]*entry
	terminal map[string]Status
	ready    []*entry
	delayed  delayHeap
	seq      uint64
	running  int
	changed  chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		now:      time.Now,
		live:     make(map[string]*entry),
		terminal: make(map[string]Status),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task to the ready set.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if status, ok := q.terminal[t.ID]; ok {
		return &InvalidTransitionError{ID: t.ID, From: status, To: StatusQueued}
	}
	if _, ok := q.live[t.ID]; ok {
		return &DuplicateTaskError{ID: t.ID}
	}
	q.seq++
	e := &entry{task: t, status: StatusQueued, seq: q.seq}
	q.live[t.ID] = e
	q.ready = append(q.ready, e)
	q.broadcastLocked()
	return nil
}

// DequeueReady pops the next ready task and marks it running.
// It returns false when nothing is ready yet.
func (q *Queue) DequeueReady() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked(q.now())
	if len(q.ready) == 0 {
		return Task{}, false
	}
	e := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	e.status = StatusRunning
	e.dueAt = time.Time{}
	q.running++
	return e.task, true
}

// Requeue moves a running task back to queued, ready again after delay.
// The stored task is replaced by t so caller-side retry counts persist.
func (q *Queue) Requeue(t Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.runningLocked(t.ID, StatusRetrying)
	if err != nil {
		return err
	}
	e.task = t
	e.status = StatusRetrying
	q.running--

	e.status = StatusQueued
	q.seq++
	e.seq = q.seq
	if delay <= 0 {
		q.ready = append(q.ready, e)
	} else {
		e.dueAt = q.now().Add(delay)
		heap.Push(&q.delayed, e)
	}
	q.broadcastLocked()
	return nil
}

// MarkAccepted terminally accepts a running task.
func (q *Queue) MarkAccepted(t Task) error {
	return q.finish(t, StatusAccepted)
}

// MarkEscalated terminally escalates a running task.
func (q *Queue) MarkEscalated(t Task) error {
	return q.finish(t, StatusEscalated)
}

func (q *Queue) finish(t Task, status Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.runningLocked(t.ID, status); err != nil {
		return err
	}
	delete(q.live, t.ID)
	q.terminal[t.ID] = status
	q.running--
	q.broadcastLocked()
	return nil
}

func (q *Queue) runningLocked(id string, to Status) (*entry, error) {
	if status, ok := q.terminal[id]; ok {
		return nil, &InvalidTransitionError{ID: id, From: status, To: to}
	}
	e, ok := q.live[id]
	if !ok {
		return nil, &InvalidTransitionError{ID: id, To: to}
	}
	if !canTransition(e.status, to) {
		return nil, &InvalidTransitionError{ID: id, From: e.status, To: to}
	}
	return e, nil
}

// Status returns the current status of id.
func (q *Queue) Status(id string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if status, ok := q.terminal[id]; ok {
		return status, true
	}
	if e, ok := q.live[id]; ok {
		return e.status, true
	}
	return "", false
}

// Active returns the number of non-terminal tasks.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// Running returns the number of tasks currently running.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the live tasks that are not running, in dispatch order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.ready)+len(q.delayed))
	for _, e := range q.ready {
		out = append(out, Entry{Task: e.task, Status: e.status})
	}
	delayed := append([]*entry(nil), q.delayed...)
	sort.Slice(delayed, func(i, j int) bool { return delayed[i].before(delayed[j]) })
	for _, e := range delayed {
		out = append(out, Entry{Task: e.task, Status: e.status, DueAt: e.dueAt})
	}
	return out
}

// Terminal returns the final status of every finished task id.
func (q *Queue) Terminal() map[string]Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]Status, len(q.terminal))
	for id, status := range q.terminal {
		out[id] = status
	}
	return out
}

// Wait blocks until the queue changes, the earliest delayed task falls due,
// maxWait elapses, or ctx is done.
func (q *Queue) Wait(ctx context.Context, maxWait time.Duration) error {
	q.mu.Lock()
	changed := q.changed
	wait := maxWait
	if len(q.ready) > 0 {
		q.mu.Unlock()
		return nil
	}
	if len(q.delayed) > 0 {
		until := q.delayed[0].dueAt.Sub(q.now())
		if until <= 0 {
			q.mu.Unlock()
			return nil
		}
		if wait <= 0 || until < wait {
			wait = until
		}
	}
	q.mu.Unlock()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-timeout:
	}
	return nil
}

func (q *Queue) promoteLocked(now time.Time) {
	for len(q.delayed) > 0 && !q.delayed[0].dueAt.After(now) {
		e := heap.Pop(&q.delayed).(*entry)
		e.dueAt = time.Time{}
		q.ready = append(q.ready, e)
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (e *entry) before(other *entry) bool {
	if e.dueAt.Equal(other.dueAt) {
		return e.seq < other.seq
	}
	return e.dueAt.Before(other.dueAt)
}

type delayHeap []*entry

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
