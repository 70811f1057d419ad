package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"chat-sync-service/internal/observability"
)

// Broker delivers changes to in-process subscriptions. Delivery never blocks:
// when a subscriber's buffer is full the change is dropped and the
// subscription is marked overflowed until TakeOverflow is called.
type Broker struct {
	mu     sync.RWMutex
	topics map[Topic]map[*Subscription]struct{}
	logger *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		topics: make(map[Topic]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is a dynamic set of topics with one delivery channel.
type Subscription struct {
	broker *Broker
	topics map[Topic]struct{}
	ch     chan Change
	closed bool

	overflow atomic.Bool
}

// Subscribe registers a subscription for topics.
func (b *Broker) Subscribe(buffer int, topics ...Topic) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		broker: b,
		topics: make(map[Topic]struct{}),
		ch:     make(chan Change, buffer),
	}
	sub.Add(topics...)
	return sub
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Change { return s.ch }

// TakeOverflow reports whether a change was dropped since the last call and
// clears the mark. A subscriber that sees true must treat every topic as
// changed.
func (s *Subscription) TakeOverflow() bool { return s.overflow.Swap(false) }

// Add starts delivering changes for topics.
func (s *Subscription) Add(topics ...Topic) {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
		subs, ok := b.topics[t]
		if !ok {
			subs = make(map[*Subscription]struct{})
			b.topics[t] = subs
		}
		subs[s] = struct{}{}
	}
}

// Remove stops delivering changes for topics.
func (s *Subscription) Remove(topics ...Topic) {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
		b.detach(t, s)
	}
}

// Close unsubscribes from every topic and closes the channel.
func (s *Subscription) Close() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	for t := range s.topics {
		b.detach(t, s)
	}
	s.topics = nil
	s.closed = true
	close(s.ch)
}

func (b *Broker) detach(t Topic, s *Subscription) {
	subs, ok := b.topics[t]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.topics, t)
	}
}

// Publish delivers c once to every subscription watching any of its topics.
func (b *Broker) Publish(_ context.Context, c Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	targets := make(map[*Subscription]struct{})
	for _, t := range c.Topics {
		for sub := range b.topics[t] {
			targets[sub] = struct{}{}
		}
	}
	for sub := range targets {
		select {
		case sub.ch <- c:
		default:
			sub.overflow.Store(true)
			observability.IncRealtimeDropped()
			b.logger.Debug("subscriber buffer full, change dropped", zap.String("kind", string(c.Kind)))
		}
	}
	observability.IncRealtimeChange(string(c.Kind))
	return nil
}
