// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bus fans out pipeline events to live subscribers. Each subscriber
// owns a bounded queue with a drop-oldest overflow policy: live monitoring
// favors recency over completeness, and one slow subscriber must never
// stall another subscriber or the ingest path.
package bus

import (
	"sync"
	"sync/atomic"

	"grimm.is/burrow/internal/logging"
)

// DefaultMaxQueue is the per-subscriber queue cap when none is configured.
const DefaultMaxQueue = 500

// Subscriber is one egress of the broadcaster. Receive blocks until an
// event is queued or the subscription closes.
type Subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	max     int
	closed  bool
	dropped atomic.Uint64
}

func newSubscriber(max int) *Subscriber {
	s := &Subscriber{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push enqueues an event, evicting the oldest queued event on overflow.
// It never blocks.
func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.max {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

// Receive returns the next queued event. The second return value is false
// once the subscription has been closed and its queue drained.
func (s *Subscriber) Receive() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Queued returns a snapshot of the pending queue, oldest first.
func (s *Subscriber) Queued() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.queue))
	copy(out, s.queue)
	return out
}

// Dropped reports how many events were evicted by the drop-oldest policy.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// close releases the queue and wakes any blocked Receive.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
}

// Broadcaster is the single ingress, many egress event fan-out.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[*Subscriber]struct{}
	maxQueue int
	logger   *logging.Logger

	// onDrop, when set, is invoked once per evicted event. The pipeline
	// hooks a metrics counter here.
	onDrop func()
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMaxQueue overrides the per-subscriber queue cap.
func WithMaxQueue(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.maxQueue = n
		}
	}
}

// WithDropHook registers a callback invoked for every evicted event.
func WithDropHook(fn func()) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

// New creates a Broadcaster.
func New(logger *logging.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	b := &Broadcaster{
		subs:     make(map[*Subscriber]struct{}),
		maxQueue: DefaultMaxQueue,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber. The first event it receives is a
// connected notice.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := newSubscriber(b.maxQueue)
	sub.push(Event{Type: EventConnected, Data: map[string]string{"status": "connected"}})

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	b.logger.Debug("subscriber attached", "subscribers", b.Len())
	return sub
}

// Unsubscribe detaches the subscriber, releases its queue and stops further
// delivery attempts.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Publish fans the event out to every subscriber. It never blocks on a slow
// subscriber; overflow is handled per subscriber by drop-oldest.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		before := sub.dropped.Load()
		sub.push(ev)
		if b.onDrop != nil && sub.dropped.Load() > before {
			b.onDrop()
		}
	}
}

// Pong replies to a subscriber's ping. The reply goes only to the pinging
// subscriber, not the whole bus.
func (b *Broadcaster) Pong(sub *Subscriber) {
	sub.push(Event{Type: EventPong, Data: map[string]string{"status": "ok"}})
}

// Len returns the current subscriber count.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}
