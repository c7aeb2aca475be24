package events

import (
	"context"
	"sync"
	"time"
)

// Source delivers change events to a subscriber in publish order.
type Source interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, func())
}

// Publisher accepts change events for fan-out.
type Publisher interface {
	Publish(event ChangeEvent)
}

// Bus fans every published event out to all current subscribers. Each
// subscriber owns an unbounded queue, so a slow consumer delays only itself
// and never loses events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	clock       func() time.Time
}

type subscriber struct {
	id     int64
	mu     sync.Mutex
	queue  []ChangeEvent
	signal chan struct{}
	stream chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int64]*subscriber),
		clock:       time.Now,
	}
}

// Subscribe registers a subscriber until ctx ends or cleanup runs. The
// returned channel is closed after cleanup.
func (b *Bus) Subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	sub := &subscriber{
		id:     b.nextSequence(),
		signal: make(chan struct{}, 1),
		stream: make(chan ChangeEvent),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.pump()

	cleanup := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub.id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-sub.done:
		}
	}()
	return sub.stream, cleanup
}

// Publish stamps event and enqueues it for every subscriber. It never blocks
// on a consumer.
func (b *Bus) Publish(event ChangeEvent) {
	if event.Kind == "" {
		return
	}
	event = Stamp(event, b.clock())

	b.mu.RLock()
	copies := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		copies = append(copies, sub)
	}
	b.mu.RUnlock()

	for _, sub := range copies {
		sub.enqueue(event)
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (s *subscriber) enqueue(event ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.stream)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = ChangeEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.stream <- next:
		case <-s.done:
			return
		}
	}
}
