package lock

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mirkobrombin/go-verrou/v1/syncbus"
)

const (
	// DefaultRetryDelay is the pause between two save attempts.
	DefaultRetryDelay = 250 * time.Millisecond
	// DefaultTTL is used by CreateLock when no ttl option is given.
	DefaultTTL = 30 * time.Second
)

// RetryConfig bounds the acquire loop.
type RetryConfig struct {
	// Attempts is the maximum number of save attempts. Zero or less means
	// unbounded.
	Attempts int
	// Delay is the pause between attempts.
	Delay time.Duration
	// Timeout caps the total time spent acquiring. Zero means no cap.
	Timeout time.Duration
}

// DefaultRetryConfig returns unbounded attempts, a 250ms delay and no timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Delay: DefaultRetryDelay}
}

func (c RetryConfig) merge(o RetryConfig) RetryConfig {
	c.Attempts = o.Attempts
	c.Timeout = o.Timeout
	if o.Delay > 0 {
		c.Delay = o.Delay
	}
	return c
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithRetry overrides the retry defaults. A zero Delay keeps the default.
func WithRetry(cfg RetryConfig) FactoryOption {
	return func(f *Factory) {
		f.retry = DefaultRetryConfig().merge(cfg)
	}
}

// WithDefaultTTL sets the ttl used by CreateLock when none is given.
// NoExpiration makes locks never expire by default.
func WithDefaultTTL(ttl time.Duration) FactoryOption {
	return func(f *Factory) {
		f.ttl = ttl
	}
}

// WithOwnerFunc replaces the owner identity generator.
func WithOwnerFunc(fn OwnerFunc) FactoryOption {
	return func(f *Factory) {
		if fn != nil {
			f.newOwner = fn
		}
	}
}

// WithClock sets the clock used for expiry estimates and retry delays.
func WithClock(c clock.Clock) FactoryOption {
	return func(f *Factory) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithBus publishes release notifications on bus and lets waiting
// acquirers retry as soon as one arrives.
func WithBus(bus syncbus.Bus) FactoryOption {
	return func(f *Factory) {
		f.bus = bus
	}
}

// WithTracing enables OpenTelemetry spans for lock operations.
func WithTracing() FactoryOption {
	return func(f *Factory) {
		f.trace = true
	}
}

// LockOption configures a single lock created by a Factory.
type LockOption func(*lockOptions)

type lockOptions struct {
	ttl time.Duration
}

// WithTTL sets the lease duration.
func WithTTL(ttl time.Duration) LockOption {
	return func(o *lockOptions) {
		o.ttl = ttl
	}
}

// WithoutExpiration creates a lease that is held until released.
func WithoutExpiration() LockOption {
	return WithTTL(NoExpiration)
}

// AcquireOption overrides the factory retry configuration for one call.
type AcquireOption func(*RetryConfig)

// WithAttempts caps the number of save attempts. Zero means unbounded.
func WithAttempts(n int) AcquireOption {
	return func(c *RetryConfig) {
		c.Attempts = n
	}
}

// WithDelay sets the pause between attempts. A non-positive d keeps the
// configured delay.
func WithDelay(d time.Duration) AcquireOption {
	return func(c *RetryConfig) {
		if d > 0 {
			c.Delay = d
		}
	}
}

// WithTimeout caps the total acquire time. Zero removes the cap.
func WithTimeout(d time.Duration) AcquireOption {
	return func(c *RetryConfig) {
		c.Timeout = d
	}
}
