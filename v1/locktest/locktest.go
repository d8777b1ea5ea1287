// Package locktest holds a conformance suite every lock.Store
// implementation is expected to pass.
package locktest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/lock"
)

// Harness is a fresh, empty store plus a way to move its clock.
type Harness struct {
	Store lock.Store
	// Advance moves the time the store uses for expiry checks forward by d.
	Advance func(d time.Duration)
}

// Factory produces a new Harness for each test case.
type Factory func(t *testing.T) Harness

// Run executes the conformance suite against the stores built by newHarness.
func Run(t *testing.T, newHarness Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(*testing.T, Harness)
	}{
		{"SaveIsExclusive", testSaveIsExclusive},
		{"Exists", testExists},
		{"DeleteChecksOwner", testDeleteChecksOwner},
		{"ExtendChecksOwner", testExtendChecksOwner},
		{"ExpiredLockCanBeTaken", testExpiredLockCanBeTaken},
		{"NoExpiration", testNoExpiration},
		{"ExtendResetsExpiry", testExtendResetsExpiry},
		{"ExtendRejectsExpiredLock", testExtendRejectsExpiredLock},
		{"ExtendBelowOneMillisecond", testExtendBelowOneMillisecond},
		{"ForceDelete", testForceDelete},
		{"MutualExclusion", testMutualExclusion},
		{"LockRoundTrip", testLockRoundTrip},
		{"DisconnectIsIdempotent", testDisconnectIsIdempotent},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newHarness(t))
		})
	}
}

func mustSave(t *testing.T, s lock.Store, key, owner string, ttl time.Duration, want bool) {
	t.Helper()
	ok, err := s.Save(context.Background(), key, owner, ttl)
	if err != nil {
		t.Fatalf("Save(%s, %s): %v", key, owner, err)
	}
	if ok != want {
		t.Fatalf("Save(%s, %s) = %v, want %v", key, owner, ok, want)
	}
}

func mustExist(t *testing.T, s lock.Store, key string, want bool) {
	t.Helper()
	ok, err := s.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("Exists(%s): %v", key, err)
	}
	if ok != want {
		t.Fatalf("Exists(%s) = %v, want %v", key, ok, want)
	}
}

func expectNotOwned(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, verrouerrors.ErrLockNotOwned) {
		t.Fatalf("expected ErrLockNotOwned, got %v", err)
	}
	if errors.Is(err, verrouerrors.ErrStorage) {
		t.Fatalf("ownership failures must not be storage errors: %v", err)
	}
}

func testSaveIsExclusive(t *testing.T, h Harness) {
	mustSave(t, h.Store, "k", "a", 10*time.Second, true)
	mustSave(t, h.Store, "k", "b", 10*time.Second, false)
	mustSave(t, h.Store, "k", "a", 10*time.Second, false)
	mustSave(t, h.Store, "other", "b", 10*time.Second, true)
}

func testExists(t *testing.T, h Harness) {
	ctx := context.Background()
	mustExist(t, h.Store, "k", false)
	mustSave(t, h.Store, "k", "a", 10*time.Second, true)
	mustExist(t, h.Store, "k", true)
	if err := h.Store.Delete(ctx, "k", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustExist(t, h.Store, "k", false)
}

func testDeleteChecksOwner(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", 10*time.Second, true)
	expectNotOwned(t, h.Store.Delete(ctx, "k", "b"))
	expectNotOwned(t, h.Store.Delete(ctx, "k", ""))
	mustExist(t, h.Store, "k", true)
	if err := h.Store.Delete(ctx, "k", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectNotOwned(t, h.Store.Delete(ctx, "k", "a"))
	expectNotOwned(t, h.Store.Delete(ctx, "missing", "a"))
}

func testExtendChecksOwner(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", 10*time.Second, true)
	expectNotOwned(t, h.Store.Extend(ctx, "k", "b", 10*time.Second))
	expectNotOwned(t, h.Store.Extend(ctx, "missing", "a", 10*time.Second))
	if err := h.Store.Extend(ctx, "k", "a", 10*time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}
}

func testExpiredLockCanBeTaken(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", time.Second, true)
	h.Advance(1500 * time.Millisecond)
	mustExist(t, h.Store, "k", false)
	mustSave(t, h.Store, "k", "b", time.Second, true)
	mustExist(t, h.Store, "k", true)
	expectNotOwned(t, h.Store.Delete(ctx, "k", "a"))
	if err := h.Store.Delete(ctx, "k", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func testNoExpiration(t *testing.T, h Harness) {
	mustSave(t, h.Store, "k", "a", lock.NoExpiration, true)
	h.Advance(time.Hour)
	mustExist(t, h.Store, "k", true)
	mustSave(t, h.Store, "k", "b", time.Second, false)
}

func testExtendResetsExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", time.Second, true)
	h.Advance(800 * time.Millisecond)
	if err := h.Store.Extend(ctx, "k", "a", time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	h.Advance(800 * time.Millisecond)
	mustExist(t, h.Store, "k", true)
	mustSave(t, h.Store, "k", "b", time.Second, false)
	h.Advance(500 * time.Millisecond)
	mustSave(t, h.Store, "k", "b", time.Second, true)
}

func testExtendRejectsExpiredLock(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", time.Second, true)
	h.Advance(1500 * time.Millisecond)
	expectNotOwned(t, h.Store.Extend(ctx, "k", "a", time.Second))
	mustExist(t, h.Store, "k", false)
	mustSave(t, h.Store, "k", "b", time.Second, true)
}

func testExtendBelowOneMillisecond(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", time.Minute, true)
	if err := h.Store.Extend(ctx, "k", "a", 500*time.Microsecond); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	mustExist(t, h.Store, "k", true)
	h.Advance(2 * time.Millisecond)
	mustExist(t, h.Store, "k", false)
	mustSave(t, h.Store, "k", "b", time.Second, true)
}

func testForceDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSave(t, h.Store, "k", "a", lock.NoExpiration, true)
	if err := h.Store.ForceDelete(ctx, "k"); err != nil {
		t.Fatalf("ForceDelete: %v", err)
	}
	mustExist(t, h.Store, "k", false)
	mustSave(t, h.Store, "k", "b", time.Second, true)
	if err := h.Store.ForceDelete(ctx, "missing"); err != nil {
		t.Fatalf("ForceDelete of a missing key: %v", err)
	}
}

func testMutualExclusion(t *testing.T, h Harness) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		counter  atomic.Int32
		inside   atomic.Int32
		overlaps atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 3; i++ {
		owner := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			for {
				ok, err := h.Store.Save(gctx, "counter", owner, 10*time.Second)
				if err != nil {
					return err
				}
				if ok {
					break
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(10 * time.Millisecond)
			counter.Add(1)
			inside.Add(-1)
			return h.Store.Delete(gctx, "counter", owner)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("workers: %v", err)
	}
	if counter.Load() != 3 {
		t.Fatalf("expected counter 3, got %d", counter.Load())
	}
	if overlaps.Load() != 0 {
		t.Fatalf("critical sections overlapped %d times", overlaps.Load())
	}
}

func testLockRoundTrip(t *testing.T, h Harness) {
	ctx := context.Background()
	f := lock.NewFactory(h.Store, lock.WithRetry(lock.RetryConfig{Delay: 5 * time.Millisecond}))

	a := f.CreateLock("job", lock.WithTTL(10*time.Second))
	b := f.CreateLock("job", lock.WithTTL(10*time.Second))
	if ok, err := a.AcquireImmediately(ctx); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if ok, err := b.Acquire(ctx, lock.WithAttempts(3)); err != nil || ok {
		t.Fatalf("expected contended acquire to fail, got %v %v", ok, err)
	}

	restored, err := f.RestoreLock(a.Serialize())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := restored.Extend(ctx, 0); err != nil {
		t.Fatalf("restored extend: %v", err)
	}
	if err := restored.Release(ctx); err != nil {
		t.Fatalf("restored release: %v", err)
	}

	ran, err := b.Run(ctx, func(context.Context) error { return nil }, lock.WithAttempts(3))
	if err != nil || !ran {
		t.Fatalf("expected run after release, got %v %v", ran, err)
	}
	mustExist(t, h.Store, "job", false)
}

func testDisconnectIsIdempotent(t *testing.T, h Harness) {
	ctx := context.Background()
	if err := h.Store.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := h.Store.Disconnect(ctx); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}
