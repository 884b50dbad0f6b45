package trace

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"conductor/internal/domain/task"
)

func TestSinkWritesJSONLinesAndReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trace.jsonl")
	sink, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sink.Record(Event{EventName: EventTaskEnqueued, RunID: "r1", TaskID: "a", Payload: map[string]any{"role": "worker"}})
	sink.Record(Event{EventName: EventTaskRunning, RunID: "r1", TaskID: "a"})
	sink.Record(Event{EventName: EventTaskRequeued, RunID: "r1", TaskID: "a"})
	sink.Record(Event{EventName: EventTaskRunning, RunID: "r1", TaskID: "a"})
	sink.Record(Event{EventName: EventTaskAccepted, RunID: "r1", TaskID: "a"})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) || ev.Timestamp.IsZero() {
			t.Fatalf("event %d not stamped: %+v", i, ev)
		}
	}
	state := Replay(events)["r1"]["a"]
	if state.Status != task.StatusAccepted || state.Requeues != 1 || state.Role != "worker" {
		t.Fatalf("unexpected replay state %+v", state)
	}
}

func TestSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	for i := 0; i < 2; i++ {
		sink, err := OpenFile(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		sink.Record(Event{EventName: EventDirectiveStarted})
		_ = sink.Close()
	}
	events, err := ReadFile(path)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 appended events, got %d (%v)", len(events), err)
	}
}

func TestDecodeRejectsCorruptLine(t *testing.T) {
	_, err := Decode(bytes.NewBufferString("{\"eventName\":\"a\"}\nnot-json\n"))
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSubscribersReceiveEvents(t *testing.T) {
	sink := NewSink(nil)
	ch, cancel := sink.Subscribe("test")
	defer cancel()

	sink.Record(Event{EventName: EventTaskAccepted, TaskID: "a"})
	select {
	case ev := <-ch:
		if ev.TaskID != "a" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive event")
	}
}

func TestFailingObserversNeverBlockRecord(t *testing.T) {
	sink := NewSink(nil, WithSubscriberBuffer(1))

	var mu sync.Mutex
	calls := 0
	stopErr := sink.Observe("erroring", func(Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("observer broke")
	})
	defer stopErr()
	stopPanic := sink.Observe("panicking", func(Event) error { panic("observer panic") })
	defer stopPanic()
	_, cancelStuck := sink.Subscribe("never-reads")
	defer cancelStuck()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			sink.Record(Event{EventName: EventTaskRunning})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Record blocked on subscribers")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("erroring observer was never invoked")
}

func TestFollowDeliversExistingAndNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	sink, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()
	sink.Record(Event{EventName: EventDirectiveStarted, RunID: "r"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Follow(ctx, path, func(ev Event) error {
			got <- ev.EventName
			if ev.EventName == EventDirectiveCompleted {
				return ErrStop
			}
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	sink.Record(Event{EventName: EventDirectiveCompleted, RunID: "r"})

	if err := <-errCh; err != nil {
		t.Fatalf("follow: %v", err)
	}
	close(got)
	var names []string
	for n := range got {
		names = append(names, n)
	}
	if len(names) != 2 || names[0] != EventDirectiveStarted || names[1] != EventDirectiveCompleted {
		t.Fatalf("unexpected followed events %v", names)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("trace file missing: %v", err)
	}
}

func TestTeeAndMemory(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	Tee{a, nil, b}.Record(Event{EventName: EventTaskAccepted, TaskID: "x"})
	if len(a.Filter(EventTaskAccepted, "x")) != 1 || len(b.Events()) != 1 {
		t.Fatalf("tee did not fan out")
	}
}
