// Package syncbus carries lock release notifications between processes so
// that waiting acquirers can retry as soon as a key is freed instead of
// sleeping for their whole retry delay.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

const releasedPrefix = "verrou:released:"

// ReleasedTopic returns the topic published when key is released.
func ReleasedTopic(key string) string {
	return releasedPrefix + key
}

// Bus is a minimal pub/sub transport. Delivery is best effort: a
// notification only shortens a wait, it never grants a lock.
type Bus interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error
}

// InMemoryBus is a process-local Bus.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	stops     map[chan struct{}]func() bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs:  make(map[string][]chan struct{}),
		stops: make(map[chan struct{}]func() bool),
	}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published.Add(1)
	for _, ch := range b.subs[topic] {
		select {
		case ch <- struct{}{}:
			b.delivered.Add(1)
		default:
			// subscriber already has a pending wakeup
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is
// done or Unsubscribe is called, whichever comes first.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.stops[ch] = context.AfterFunc(ctx, func() {
		_ = b.Unsubscribe(context.Background(), topic, ch)
	})
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe. It is safe to call more than once.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stop, ok := b.stops[ch]; ok {
		stop()
		delete(b.stops, ch)
	}
	subs := b.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = subs
	}
	return nil
}

// Metrics reports delivery counters.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// Metrics returns the publish and delivery counters.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
