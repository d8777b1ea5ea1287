package syncbus

import (
	"context"
	"testing"
	"time"
)

func TestReleasedTopic(t *testing.T) {
	if got := ReleasedTopic("foo"); got != "verrou:released:foo" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "key")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(context.Background(), "key"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}

	metrics := bus.Metrics()
	if metrics.Published != 1 {
		t.Fatalf("expected published 1 got %d", metrics.Published)
	}
	if metrics.Delivered != 1 {
		t.Fatalf("expected delivered 1 got %d", metrics.Delivered)
	}
}

func TestPublishDoesNotBlockOnPendingWakeup(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "key")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, "key"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if m := bus.Metrics(); m.Published != 3 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	<-ch
	_ = bus.Unsubscribe(ctx, "key", ch)
}

func TestContextBasedUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "key")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unsubscribe")
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.subs["key"]; ok {
		t.Fatal("subscription still present after context cancel")
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, "key")
	if err := bus.Unsubscribe(ctx, "key", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "key", ch); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
}
