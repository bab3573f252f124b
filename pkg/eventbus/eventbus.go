// Package eventbus provides a small typed publish/subscribe bus.
//
// Every subscriber owns a buffered channel. Publish never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber only
// and counted in [Bus.Dropped]. Closing the bus closes every subscription
// channel, so consumers can simply range over [Subscription.C].
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber buffer used when New is given a
// non-positive size.
const DefaultBuffer = 64

// Bus fans values of type T out to any number of subscribers.
// The zero value is not usable; create one with New.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	closed  bool
	buffer  int
	dropped atomic.Uint64
}

// New returns a bus whose subscriptions buffer up to buffer events.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{subs: make(map[*Subscription[T]]struct{}), buffer: buffer}
}

// Subscription is one consumer's view of a Bus.
type Subscription[T any] struct {
	bus  *Bus[T]
	ch   chan T
	once sync.Once
}

// C returns the receive channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Close detaches the subscription from its bus. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		s.close()
	}
}

func (s *Subscription[T]) close() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers a new subscriber. Subscribing to a closed bus returns
// a subscription whose channel is already closed.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{bus: b, ch: make(chan T, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every subscriber without blocking and reports how
// many subscribers received it.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for s := range b.subs {
		select {
		case s.ch <- v:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Bus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscription. Later Publish calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
		delete(b.subs, s)
	}
}
