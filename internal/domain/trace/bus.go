package trace

import (
	"sync"
	"sync/atomic"

	"conductor/internal/shared/async"
	"conductor/internal/shared/logging"
)

const defaultSubscriberBuffer = 256

type subscriber struct {
	name    string
	ch      chan Event
	dropped atomic.Uint64
}

// Bus is an observer list. Each subscriber owns a bounded buffer; a full buffer
// drops the event for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	logger logging.Logger
}

// NewBus constructs a bus whose subscribers buffer up to buffer events.
func NewBus(buffer int, logger logging.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
		logger: logging.OrNop(logger),
	}
}

// Publish delivers event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			if n := sub.dropped.Add(1); n == 1 || n%100 == 0 {
				b.logger.Warn("trace subscriber %s is slow; dropped %d events", sub.name, n)
			}
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (b *Bus) Subscribe(name string) (<-chan Event, func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{name: name, ch: make(chan Event, b.buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Observe runs fn for every future event on its own goroutine. Errors and
// panics from fn are logged and never reach the publisher.
func (b *Bus) Observe(name string, fn func(Event) error) func() {
	ch, cancel := b.Subscribe(name)
	async.Go(b.logger, "trace-observer-"+name, func() {
		for event := range ch {
			ev := event
			async.Safe(b.logger, "trace-observer-"+name, func() {
				if err := fn(ev); err != nil {
					b.logger.Warn("trace observer %s failed on %s: %v", name, ev.EventName, err)
				}
			})
		}
	})
	return cancel
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
