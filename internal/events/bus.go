package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the subscription buffer used when Subscribe is given a
// non-positive size.
const DefaultBuffer = 256

// Option is a functional option for configuring a Bus.
type Option func(*Bus)

// WithDropHook registers fn to be called every time an event is dropped for a
// slow subscriber.
func WithDropHook(fn func(Type)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// Bus fans published events out to subscriptions. A nil *Bus is valid and
// discards everything, which keeps optional wiring simple.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	now     func() time.Time
	onDrop  func(Type)
	dropped atomic.Int64
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is a buffered stream of events. Close it when done.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// Events returns the subscription channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Subscribe registers a new subscription with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers an event of type t with payload data to every subscriber.
func (b *Bus) Publish(t Type, data any) {
	if b == nil {
		return
	}
	ev := Event{Type: t, Time: b.now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(t)
			}
		}
	}
}

// Dropped returns the total number of events dropped for slow subscribers.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// State publishes a [StateChanged] event.
func (b *Bus) State(from, to string) {
	b.Publish(TypeState, StateChanged{From: from, To: to})
}

// Status publishes a partial [Status] update.
func (b *Bus) Status(st Status) {
	b.Publish(TypeStatus, st)
}

// Amplitude publishes visualisation samples.
func (b *Bus) Amplitude(values []uint8) {
	b.Publish(TypeAmplitude, Amplitude{Values: values})
}

// Speaking publishes a voice-activity transition.
func (b *Bus) Speaking(speaking bool) {
	b.Publish(TypeSpeaking, Speaking{Speaking: speaking})
}
