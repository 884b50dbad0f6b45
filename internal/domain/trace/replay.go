package trace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nxadm/tail"

	"conductor/internal/domain/task"
	jsonx "conductor/internal/shared/json"
)

const maxLineBytes = 8 << 20

// Decode reads JSON-line events from r, starting at offset 0.
func Decode(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var events []Event
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var ev Event
		if err := jsonx.Unmarshal([]byte(text), &ev); err != nil {
			return events, fmt.Errorf("trace line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// ReadFile replays the full trace log at path.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Follow tails path and calls fn for every event until ctx is done or fn fails.
// Existing lines are delivered first.
func Follow(ctx context.Context, path string, fn func(Event) error) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tail trace log: %w", err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			var ev Event
			if err := jsonx.Unmarshal([]byte(text), &ev); err != nil {
				continue
			}
			if err := fn(ev); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
	}
}

// ErrStop ends Follow without error.
var ErrStop = errors.New("stop following")

// TaskState is the replayed view of one task.
type TaskState struct {
	TaskID   string      `json:"taskId"`
	Status   task.Status `json:"status"`
	Requeues int         `json:"requeues"`
	ParentID string      `json:"parentId,omitempty"`
	Role     string      `json:"role,omitempty"`
}

// Replay folds events into the last known state of every task, per run.
func Replay(events []Event) map[string]map[string]*TaskState {
	runs := make(map[string]map[string]*TaskState)
	for _, ev := range events {
		if ev.TaskID == "" {
			continue
		}
		tasks, ok := runs[ev.RunID]
		if !ok {
			tasks = make(map[string]*TaskState)
			runs[ev.RunID] = tasks
		}
		st, ok := tasks[ev.TaskID]
		if !ok {
			st = &TaskState{TaskID: ev.TaskID}
			tasks[ev.TaskID] = st
		}
		switch ev.EventName {
		case EventTaskEnqueued:
			st.Status = task.StatusQueued
			if v, ok := ev.Payload["parentId"].(string); ok {
				st.ParentID = v
			}
			if v, ok := ev.Payload["role"].(string); ok {
				st.Role = v
			}
		case EventTaskRunning:
			st.Status = task.StatusRunning
		case EventTaskRequeued:
			st.Status = task.StatusQueued
			st.Requeues++
		case EventTaskAccepted:
			st.Status = task.StatusAccepted
		case EventTaskEscalated:
			st.Status = task.StatusEscalated
		}
	}
	return runs
}
