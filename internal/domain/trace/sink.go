package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsonx "conductor/internal/shared/json"
	"conductor/internal/shared/logging"
)

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the sink logger.
func WithLogger(logger logging.Logger) SinkOption {
	return func(s *Sink) { s.logger = logging.OrNop(logger) }
}

// WithSubscriberBuffer sets the per-subscriber buffer size.
func WithSubscriberBuffer(n int) SinkOption {
	return func(s *Sink) { s.buffer = n }
}

// Sink appends events as JSON lines and publishes them on a Bus.
type Sink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	seq    uint64
	now    func() time.Time
	logger logging.Logger
	buffer int
	bus    *Bus
}

// NewSink writes to w. A nil writer keeps events in the live stream only.
func NewSink(w io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{now: time.Now, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if w != nil {
		s.w = bufio.NewWriter(w)
		if c, ok := w.(io.Closer); ok {
			s.closer = c
		}
	}
	s.bus = NewBus(s.buffer, s.logger)
	return s
}

// OpenFile opens path for appending, creating parent directories.
func OpenFile(path string, opts ...SinkOption) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	return NewSink(f, opts...), nil
}

// Record stamps, persists and publishes event.
func (s *Sink) Record(event Event) {
	s.mu.Lock()
	s.seq++
	event.Seq = s.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if s.w != nil {
		if err := s.writeLocked(event); err != nil {
			s.logger.Error("trace write failed for %s: %v", event.EventName, err)
		}
	}
	s.mu.Unlock()

	s.bus.Publish(event)
}

func (s *Sink) writeLocked(event Event) error {
	line, err := jsonx.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.w.Flush()
}

// Subscribe returns a live event channel and its cancel func.
func (s *Sink) Subscribe(name string) (<-chan Event, func()) {
	return s.bus.Subscribe(name)
}

// Observe registers an isolated callback observer.
func (s *Sink) Observe(name string, fn func(Event) error) func() {
	return s.bus.Observe(name, fn)
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		if err := s.w.Flush(); err != nil {
			return err
		}
	}
	if s.closer != nil {
		err := s.closer.Close()
		s.closer = nil
		return err
	}
	return nil
}

// Memory collects events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(event Event) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Filter returns events matching name and, when non-empty, taskID.
func (m *Memory) Filter(name, taskID string) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.EventName == name && (taskID == "" || ev.TaskID == taskID) {
			out = append(out, ev)
		}
	}
	return out
}

// Tee fans every event out to several recorders.
type Tee []Recorder

func (t Tee) Record(event Event) {
	for _, r := range t {
		if r != nil {
			r.Record(event)
		}
	}
}
