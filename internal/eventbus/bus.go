package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a planner lifecycle or transfer event.
type Kind string

const (
	PlannerStarted Kind = "planner.started"
	PlannerPaused  Kind = "planner.paused"
	PlannerResumed Kind = "planner.resumed"
	PlannerStopped Kind = "planner.stopped"

	LinkAdded       Kind = "link.added"
	LinkRemoved     Kind = "link.removed"
	LinkTransferred Kind = "link.transferred"
	LinkFailed      Kind = "link.failed"
)

// Event is an in-memory signal published by the planner.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get a buffered channel; a slow subscriber drops events.
type Event struct {
	Kind     Kind
	Time     time.Time
	Link     string
	Started  time.Time
	Duration time.Duration
	Err      string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}
		s.mu.Unlock()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()

			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were dropped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
