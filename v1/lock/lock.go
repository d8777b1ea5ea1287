package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/metrics"
	"github.com/mirkobrombin/go-verrou/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-verrou/v1/lock")

// Lock is a handle on a named lease owned by a single identity. A Lock is
// safe for concurrent use, although it represents one holder: two
// goroutines sharing a Lock share its ownership.
type Lock struct {
	key   string
	owner string
	ttl   time.Duration
	store Store
	retry RetryConfig
	clock clock.Clock
	bus   syncbus.Bus
	trace bool

	mu        sync.Mutex
	expiresAt time.Time
}

// Key returns the lock name.
func (l *Lock) Key() string { return l.key }

// Owner returns the owner identity the lock presents to the store.
func (l *Lock) Owner() string { return l.owner }

// TTL returns the lease duration, NoExpiration for a lease that never expires.
func (l *Lock) TTL() time.Duration { return l.ttl }

// Acquire tries to take the lease, retrying according to the factory retry
// configuration as overridden by opts. It returns false with a nil error when
// the attempts or the timeout are exhausted. Storage failures abort the loop
// immediately, and so does cancellation of ctx.
func (l *Lock) Acquire(ctx context.Context, opts ...AcquireOption) (bool, error) {
	cfg := l.retry
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryDelay
	}
	return l.acquire(ctx, cfg)
}

// AcquireImmediately makes a single attempt regardless of the retry
// configuration.
func (l *Lock) AcquireImmediately(ctx context.Context) (bool, error) {
	return l.acquire(ctx, RetryConfig{Attempts: 1})
}

func (l *Lock) acquire(ctx context.Context, cfg RetryConfig) (acquired bool, err error) {
	if l.ttl < 0 {
		return false, verrouerrors.ErrInvalidTTL
	}

	var span trace.Span
	if l.trace {
		ctx, span = tracer.Start(ctx, "Lock.Acquire", trace.WithAttributes(attribute.String("verrou.lock.key", l.key)))
	}

	start := l.clock.Now()
	attempts := 0
	defer func() {
		result := metrics.ResultFailed
		switch {
		case err != nil:
			result = metrics.ResultError
		case acquired:
			result = metrics.ResultAcquired
		}
		metrics.AcquireCounter.WithLabelValues(result).Inc()
		metrics.AcquireLatency.Observe(l.clock.Since(start).Seconds())
		if span != nil {
			span.SetAttributes(attribute.Int("verrou.lock.attempts", attempts))
			endSpan(span, result, err)
		}
	}()

	// Subscribe before the first attempt so a release landing between a
	// failed save and the wait is not missed.
	var released chan struct{}
	if l.bus != nil && cfg.Attempts != 1 {
		topic := syncbus.ReleasedTopic(l.key)
		ch, subErr := l.bus.Subscribe(ctx, topic)
		if subErr != nil {
			slog.Warn("verrou: release notifications unavailable", "key", l.key, "error", subErr)
		} else {
			released = ch
			defer func() {
				_ = l.bus.Unsubscribe(context.WithoutCancel(ctx), topic, ch)
			}()
		}
	}

	for {
		attempts++
		metrics.AttemptCounter.Inc()
		ok, err := l.store.Save(ctx, l.key, l.owner, l.ttl)
		if err != nil {
			return false, err
		}
		if ok {
			l.setExpiry(l.ttl)
			return true, nil
		}
		if cfg.Attempts > 0 && attempts >= cfg.Attempts {
			return false, nil
		}

		wait := cfg.Delay
		if cfg.Timeout > 0 {
			remaining := cfg.Timeout - l.clock.Since(start)
			if remaining <= 0 {
				return false, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}
		timer := l.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		case _, open := <-released:
			timer.Stop()
			if !open {
				released = nil
			}
		}
	}
}

// Release gives the lease back. It fails with errors.ErrLockNotOwned when
// the stored owner differs or the record is gone, in which case the local
// expiry estimate is left untouched.
func (l *Lock) Release(ctx context.Context) (err error) {
	var span trace.Span
	if l.trace {
		ctx, span = tracer.Start(ctx, "Lock.Release", trace.WithAttributes(attribute.String("verrou.lock.key", l.key)))
	}
	defer func() {
		result := metrics.ResultFor(err, isNotOwned)
		metrics.ReleaseCounter.WithLabelValues(result).Inc()
		if span != nil {
			endSpan(span, result, err)
		}
	}()

	if err := l.store.Delete(ctx, l.key, l.owner); err != nil {
		return err
	}
	l.clearExpiry()
	l.publishRelease(ctx)
	return nil
}

// ForceRelease removes the lease whoever holds it.
func (l *Lock) ForceRelease(ctx context.Context) (err error) {
	var span trace.Span
	if l.trace {
		ctx, span = tracer.Start(ctx, "Lock.ForceRelease", trace.WithAttributes(attribute.String("verrou.lock.key", l.key)))
	}
	defer func() {
		result := metrics.ResultFor(err, isNotOwned)
		metrics.ReleaseCounter.WithLabelValues(result).Inc()
		if span != nil {
			endSpan(span, result, err)
		}
	}()

	if err := l.store.ForceDelete(ctx, l.key); err != nil {
		return err
	}
	l.clearExpiry()
	l.publishRelease(ctx)
	return nil
}

// Extend pushes the expiration to now+ttl. A zero ttl reuses the lock's own
// ttl; errors.ErrNoTTL is returned when both are zero. The store is not
// contacted for invalid durations.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) (err error) {
	if ttl < 0 {
		return verrouerrors.ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = l.ttl
	}
	if ttl <= 0 {
		return verrouerrors.ErrNoTTL
	}

	var span trace.Span
	if l.trace {
		ctx, span = tracer.Start(ctx, "Lock.Extend", trace.WithAttributes(
			attribute.String("verrou.lock.key", l.key),
			attribute.Int64("verrou.lock.ttl_ms", ttl.Milliseconds()),
		))
	}
	defer func() {
		result := metrics.ResultFor(err, isNotOwned)
		metrics.ExtendCounter.WithLabelValues(result).Inc()
		if span != nil {
			endSpan(span, result, err)
		}
	}()

	if err := l.store.Extend(ctx, l.key, l.owner, ttl); err != nil {
		return err
	}
	l.setExpiry(ttl)
	return nil
}

// IsLocked asks the store whether any live holder exists for the key.
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	return l.store.Exists(ctx, l.key)
}

// IsExpired reports whether the local expiry estimate has been reached.
// Locks without an estimate never report expired.
func (l *Lock) IsExpired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiresAt.IsZero() {
		return false
	}
	return !l.expiresAt.After(l.clock.Now())
}

// RemainingTime returns the time left on the local expiry estimate, floored
// at zero. The boolean is false when there is no estimate.
func (l *Lock) RemainingTime() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiresAt.IsZero() {
		return 0, false
	}
	remaining := l.expiresAt.Sub(l.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ExpiresAt returns the local expiry estimate, zero when there is none.
func (l *Lock) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiresAt
}

func (l *Lock) setExpiry(ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ttl > 0 {
		l.expiresAt = l.clock.Now().Add(ttl)
	} else {
		l.expiresAt = time.Time{}
	}
}

func (l *Lock) clearExpiry() {
	l.mu.Lock()
	l.expiresAt = time.Time{}
	l.mu.Unlock()
}

func (l *Lock) publishRelease(ctx context.Context) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(ctx, syncbus.ReleasedTopic(l.key)); err != nil {
		slog.Warn("verrou: failed to publish release", "key", l.key, "error", err)
	}
}

func isNotOwned(err error) bool {
	return errors.Is(err, verrouerrors.ErrLockNotOwned)
}

func endSpan(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String("verrou.lock.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
