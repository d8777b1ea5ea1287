package adapter_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mirkobrombin/go-verrou/v1/adapter"
	"github.com/mirkobrombin/go-verrou/v1/locktest"
)

func TestMemoryStoreConformance(t *testing.T) {
	locktest.Run(t, func(t *testing.T) locktest.Harness {
		mock := clock.NewMock()
		return locktest.Harness{
			Store:   adapter.NewMemoryStore(adapter.WithMemoryClock(mock)),
			Advance: mock.Add,
		}
	})
}

func TestMemoryStoreSingleWinner(t *testing.T) {
	s := adapter.NewMemoryStore()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Save(ctx, "k", fmt.Sprintf("owner-%d", i), time.Minute)
			if err != nil {
				t.Errorf("Save: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := adapter.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Save(ctx, "k", "a", time.Second); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
