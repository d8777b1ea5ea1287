package lock

import (
	"context"
	"errors"
	"log/slog"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

// Run acquires the lock with the configured retries, calls fn while holding
// it and releases it afterwards, even if fn panics. The boolean reports
// whether fn ran. An error from fn takes precedence over a release failure.
func (l *Lock) Run(ctx context.Context, fn func(context.Context) error, opts ...AcquireOption) (bool, error) {
	_, ran, err := Run(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return ran, err
}

// RunImmediately is Run with a single acquire attempt.
func (l *Lock) RunImmediately(ctx context.Context, fn func(context.Context) error) (bool, error) {
	_, ran, err := RunImmediately(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return ran, err
}

// Run is the value-returning form of Lock.Run.
func Run[T any](ctx context.Context, l *Lock, fn func(context.Context) (T, error), opts ...AcquireOption) (T, bool, error) {
	return runLocked(ctx, l, func(ctx context.Context) (bool, error) {
		return l.Acquire(ctx, opts...)
	}, fn)
}

// RunImmediately is the value-returning form of Lock.RunImmediately.
func RunImmediately[T any](ctx context.Context, l *Lock, fn func(context.Context) (T, error)) (T, bool, error) {
	return runLocked(ctx, l, l.AcquireImmediately, fn)
}

func runLocked[T any](ctx context.Context, l *Lock, acquire func(context.Context) (bool, error), fn func(context.Context) (T, error)) (result T, ran bool, err error) {
	ok, err := acquire(ctx)
	if err != nil || !ok {
		return result, false, err
	}

	defer func() {
		relErr := l.Release(context.WithoutCancel(ctx))
		if relErr == nil {
			return
		}
		slog.Warn("verrou: release after run failed", "key", l.key, "error", relErr)
		if err == nil && !errors.Is(relErr, verrouerrors.ErrLockNotOwned) {
			err = relErr
		}
	}()

	result, err = fn(ctx)
	return result, true, err
}
