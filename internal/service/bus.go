package service

import "sync"

// EventBus is a simple fan-out pub/sub. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type EventBus[T any] struct {
	mu   sync.RWMutex
	size int
	subs map[chan T]struct{}
}

// NewEventBus creates a bus whose subscribers buffer size events.
func NewEventBus[T any](size int) *EventBus[T] {
	return &EventBus[T]{size: size, subs: make(map[chan T]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus[T]) Subscribe() chan T {
	ch := make(chan T, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown
// channels are ignored.
func (b *EventBus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Len returns the number of subscribers.
func (b *EventBus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone.
func (b *EventBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
