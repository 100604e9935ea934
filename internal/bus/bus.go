// Package bus is the broadcast channel shared by every chart session.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"ewsreplay/internal/model"
)

const defaultBuffer = 256

type Publisher interface {
	Publish(ev model.Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev model.Event)

func (f PublisherFunc) Publish(ev model.Event) { f(ev) }

// Subscription receives every event published after it was created. Name is
// the subscriber class reported to drop hooks; ID tells instances apart.
type Subscription struct {
	Name    string
	ID      uint64
	ch      chan model.Event
	dropped atomic.Uint64
	closed  bool
}

func (s *Subscription) C() <-chan model.Event { return s.ch }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Bus never blocks a publisher: a subscriber whose buffer is full loses the
// event and the drop is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	buffer int
	closed bool
	logger *slog.Logger
	onDrop func(sub string, ev model.Event)
	seq    atomic.Uint64
}

func New(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{buffer: buffer, logger: logger}
}

// OnDrop installs a hook invoked for every dropped delivery.
func (b *Bus) OnDrop(fn func(sub string, ev model.Event)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.buffer
	}
	sub := &Subscription{Name: name, ID: b.seq.Add(1), ch: make(chan model.Event, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
			return
		}
	}
}

func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			if b.logger != nil {
				b.logger.Warn("subscriber buffer full, dropping event", "subscriber", sub.Name, "subscription_id", sub.ID, "kind", ev.Kind, "chart_id", ev.ChartID)
			}
			if b.onDrop != nil {
				b.onDrop(sub.Name, ev)
			}
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription channel. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	b.subs = nil
}

// Consume drains sub until ctx is done or the subscription is closed.
func Consume(ctx context.Context, sub *Subscription, fn func(model.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			fn(ev)
		}
	}
}
