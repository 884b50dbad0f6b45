package task

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func TestQueueTerminalInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewQueue()
		ids := []string{"a", "b", "c", "d"}
		for _, id := range ids {
			if err := q.Enqueue(Task{ID: id}); err != nil {
				t.Fatalf("enqueue %s: %v", id, err)
			}
		}
		terminal := map[string]Status{}
		running := map[string]Task{}

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			id := rapid.SampledFrom(ids).Draw(t, fmt.Sprintf("id%d", i))
			op := rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("op%d", i))

			var err error
			switch op {
			case 0:
				if task, ok := q.DequeueReady(); ok {
					if _, done := terminal[task.ID]; done {
						t.Fatalf("terminal task %s dequeued", task.ID)
					}
					running[task.ID] = task
				}
				continue
			case 1:
				err = q.Requeue(Task{ID: id}, 0)
			case 2:
				err = q.MarkAccepted(Task{ID: id})
			case 3:
				err = q.MarkEscalated(Task{ID: id})
			case 4:
				err = q.Enqueue(Task{ID: id})
			}

			if _, done := terminal[id]; done {
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Fatalf("op %d on terminal %s: expected InvalidTransitionError, got %v", op, id, err)
				}
				continue
			}
			if err != nil {
				continue
			}
			switch op {
			case 1:
				delete(running, id)
			case 2:
				terminal[id] = StatusAccepted
				delete(running, id)
			case 3:
				terminal[id] = StatusEscalated
				delete(running, id)
			}
		}

		for id, want := range terminal {
			got, _ := q.Status(id)
			if got != want {
				t.Fatalf("task %s status %s, want %s", id, got, want)
			}
		}
		for {
			task, ok := q.DequeueReady()
			if !ok {
				break
			}
			if _, done := terminal[task.ID]; done {
				t.Fatalf("terminal task %s became running", task.ID)
			}
		}
	})
}
