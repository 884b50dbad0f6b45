package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue() (*Queue, *testClock) {
	clock := &testClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	return NewQueue(WithClock(clock.Now)), clock
}

func mustDequeue(t *testing.T, q *Queue) Task {
	t.Helper()
	task, ok := q.DequeueReady()
	if !ok {
		t.Fatalf("expected a ready task")
	}
	return task
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	q, _ := newTestQueue()
	if err := q.Enqueue(Task{ID: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := q.Enqueue(Task{ID: "a"})
	var dup *DuplicateTaskError
	if !errors.As(err, &dup) || dup.ID != "a" {
		t.Fatalf("expected DuplicateTaskError, got %v", err)
	}
}

func TestDequeueIsFIFO(t *testing.T) {
	q, _ := newTestQueue()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(Task{ID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := mustDequeue(t, q); got.ID != want {
			t.Fatalf("expected %s, got %s", want, got.ID)
		}
	}
	if _, ok := q.DequeueReady(); ok {
		t.Fatalf("queue should be empty")
	}
	if q.Running() != 3 {
		t.Fatalf("expected 3 running, got %d", q.Running())
	}
}

func TestRequeueDelaysUntilDueAndOrdersByDueTime(t *testing.T) {
	q, clock := newTestQueue()
	for _, id := range []string{"slow", "fast"} {
		_ = q.Enqueue(Task{ID: id})
	}
	slow := mustDequeue(t, q)
	fast := mustDequeue(t, q)
	slow.Retries = 1
	if err := q.Requeue(slow, 10*time.Second); err != nil {
		t.Fatalf("requeue slow: %v", err)
	}
	if err := q.Requeue(fast, 5*time.Second); err != nil {
		t.Fatalf("requeue fast: %v", err)
	}
	if _, ok := q.DequeueReady(); ok {
		t.Fatalf("delayed tasks must not be ready yet")
	}
	clock.Advance(11 * time.Second)
	if got := mustDequeue(t, q); got.ID != "fast" {
		t.Fatalf("expected fast first, got %s", got.ID)
	}
	got := mustDequeue(t, q)
	if got.ID != "slow" || got.Retries != 1 {
		t.Fatalf("expected slow with retries preserved, got %+v", got)
	}
}

func TestTerminalTasksNeverRunAgain(t *testing.T) {
	q, _ := newTestQueue()
	_ = q.Enqueue(Task{ID: "a"})
	a := mustDequeue(t, q)
	if err := q.MarkAccepted(a); err != nil {
		t.Fatalf("accept: %v", err)
	}
	var invalid *InvalidTransitionError
	for name, err := range map[string]error{
		"enqueue":  q.Enqueue(a),
		"requeue":  q.Requeue(a, 0),
		"accept":   q.MarkAccepted(a),
		"escalate": q.MarkEscalated(a),
	} {
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: expected InvalidTransitionError, got %v", name, err)
		}
	}
	if status, _ := q.Status("a"); status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", status)
	}
	if q.Active() != 0 {
		t.Fatalf("terminal task should leave the active set")
	}
}

func TestMarkRequiresRunning(t *testing.T) {
	q, _ := newTestQueue()
	_ = q.Enqueue(Task{ID: "a"})
	err := q.MarkEscalated(Task{ID: "a"})
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != StatusQueued {
		t.Fatalf("expected queued->escalated rejection, got %v", err)
	}
	if err := q.Requeue(Task{ID: "ghost"}, 0); !errors.As(err, &invalid) {
		t.Fatalf("unknown task should be rejected, got %v", err)
	}
}

func TestWaitWakesOnEnqueue(t *testing.T) {
	q := NewQueue()
	done := make(chan error, 1)
	go func() {
		done <- q.Wait(context.Background(), 0)
	}()
	time.Sleep(10 * time.Millisecond)
	_ = q.Enqueue(Task{ID: "a"})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not wake on enqueue")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
