package syncbus

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

const redisBusTimeout = 5 * time.Second

// RedisBus implements Bus on top of Redis pub/sub, so notifications reach
// every process connected to the same server.
type RedisBus struct {
	client redis.UniversalClient

	mu   sync.Mutex
	subs map[chan struct{}]redisSub
}

type redisSub struct {
	ps   *redis.PubSub
	stop func() bool
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client, subs: make(map[chan struct{}]redisSub)}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string) error {
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, topic, "1").Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// Subscribe implements Bus.Subscribe. It returns once Redis has confirmed
// the subscription, so a Publish issued afterwards is never missed.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ps := b.client.Subscribe(ctx, topic)
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if _, err := ps.Receive(cctx); err != nil {
		_ = ps.Close()
		return nil, mapRedisErr(err)
	}

	ch := make(chan struct{}, 1)
	msgs := ps.Channel()
	go func() {
		defer close(ch)
		for range msgs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	b.mu.Lock()
	b.subs[ch] = redisSub{ps: ps, stop: context.AfterFunc(ctx, func() {
		_ = b.Unsubscribe(context.Background(), topic, ch)
	})}
	b.mu.Unlock()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe. The channel is closed once the
// underlying subscription has drained.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.mu.Lock()
	sub, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	sub.stop()
	return sub.ps.Close()
}

// Close drops every open subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[chan struct{}]redisSub)
	b.mu.Unlock()
	var errs []error
	for _, sub := range subs {
		sub.stop()
		if err := sub.ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

func mapRedisErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return verrouerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return verrouerrors.ErrConnectionClosed
	default:
		return err
	}
}
