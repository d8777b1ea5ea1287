package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

func TestRunReleasesAfterCallback(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(newFakeStore(nil))
	l := f.CreateLock("job")

	calls := 0
	ran, err := l.Run(ctx, func(ctx context.Context) error {
		calls++
		locked, err := l.IsLocked(ctx)
		if err != nil || !locked {
			t.Errorf("expected lock held inside callback, got %v %v", locked, err)
		}
		return nil
	})
	if err != nil || !ran || calls != 1 {
		t.Fatalf("unexpected run result: ran=%v err=%v calls=%d", ran, err, calls)
	}
	if locked, _ := l.IsLocked(ctx); locked {
		t.Fatalf("lock should be released after run")
	}
}

func TestRunImmediatelySkipsWhenBusy(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(newFakeStore(nil))
	holder := f.CreateLock("job")
	if ok, err := holder.AcquireImmediately(ctx); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}

	called := false
	ran, err := f.CreateLock("job").RunImmediately(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || ran || called {
		t.Fatalf("expected callback skipped, got ran=%v err=%v called=%v", ran, err, called)
	}
}

func TestRunReturnsCallbackError(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(newFakeStore(nil))
	l := f.CreateLock("job")

	boom := errors.New("boom")
	ran, err := l.Run(ctx, func(context.Context) error { return boom })
	if !ran || !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got ran=%v err=%v", ran, err)
	}
	if locked, _ := l.IsLocked(ctx); locked {
		t.Fatalf("lock should be released after a failing callback")
	}
}

func TestRunReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(newFakeStore(nil))
	l := f.CreateLock("job")

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_, _ = l.Run(ctx, func(context.Context) error { panic("boom") })
	}()

	if locked, _ := l.IsLocked(ctx); locked {
		t.Fatalf("lock should be released after a panic")
	}
}

func TestRunIgnoresLostOwnership(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(newFakeStore(nil))
	l := f.CreateLock("job")

	ran, err := l.Run(ctx, func(ctx context.Context) error {
		return f.CreateLock("job").ForceRelease(ctx)
	})
	if !ran || err != nil {
		t.Fatalf("lost ownership should only be logged, got ran=%v err=%v", ran, err)
	}
}

func TestRunGenericReturnsValue(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(newFakeStore(nil))
	l := f.CreateLock("job", WithTTL(time.Minute))

	v, ran, err := Run(ctx, l, func(context.Context) (int, error) { return 42, nil })
	if err != nil || !ran || v != 42 {
		t.Fatalf("unexpected result %v %v %v", v, ran, err)
	}

	holder := f.CreateLock("job")
	if ok, _ := holder.AcquireImmediately(ctx); !ok {
		t.Fatalf("expected holder to acquire")
	}
	v, ran, err = RunImmediately(ctx, l, func(context.Context) (int, error) { return 7, nil })
	if err != nil || ran || v != 0 {
		t.Fatalf("expected zero value when busy, got %v %v %v", v, ran, err)
	}
}

func TestRunPropagatesAcquireError(t *testing.T) {
	store := newFakeStore(nil)
	store.saveErr = errors.New("down")
	l := NewFactory(store).CreateLock("job")

	ran, err := l.Run(context.Background(), func(context.Context) error { return nil })
	if ran || !errors.Is(err, verrouerrors.ErrStorage) {
		t.Fatalf("expected storage error, got ran=%v err=%v", ran, err)
	}
}
