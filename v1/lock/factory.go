package lock

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/syncbus"
)

// Factory binds a Store to retry and ttl defaults and mints Lock handles.
type Factory struct {
	store    Store
	retry    RetryConfig
	ttl      time.Duration
	newOwner OwnerFunc
	clock    clock.Clock
	bus      syncbus.Bus
	trace    bool
}

// NewFactory returns a Factory over store. Without options locks get a 30s
// ttl, a random owner and unbounded retries every 250ms.
func NewFactory(store Store, opts ...FactoryOption) *Factory {
	f := &Factory{
		store:    store,
		retry:    DefaultRetryConfig(),
		ttl:      DefaultTTL,
		newOwner: DefaultOwner,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLock returns a handle on name with a fresh owner identity. No store
// call is made.
func (f *Factory) CreateLock(name string, opts ...LockOption) *Lock {
	o := lockOptions{ttl: f.ttl}
	for _, opt := range opts {
		opt(&o)
	}
	return f.newLock(name, f.newOwner(), o.ttl)
}

// RestoreLock rebuilds a handle from a snapshot, keeping its owner, ttl and
// expiry estimate. No store call is made.
func (f *Factory) RestoreLock(s SerializedLock) (*Lock, error) {
	if s.Key == "" || s.Owner == "" {
		return nil, verrouerrors.ErrInvalidSnapshot
	}
	ttl := NoExpiration
	if s.TTL != nil {
		if *s.TTL < 0 {
			return nil, verrouerrors.ErrInvalidTTL
		}
		ttl = time.Duration(*s.TTL) * time.Millisecond
	}
	l := f.newLock(s.Key, s.Owner, ttl)
	if s.ExpirationTime != nil {
		l.expiresAt = time.UnixMilli(*s.ExpirationTime)
	}
	return l, nil
}

// Store returns the backing store.
func (f *Factory) Store() Store {
	return f.store
}

// Retry returns the resolved retry defaults.
func (f *Factory) Retry() RetryConfig {
	return f.retry
}

// Disconnect releases the backing store resources.
func (f *Factory) Disconnect(ctx context.Context) error {
	return f.store.Disconnect(ctx)
}

func (f *Factory) newLock(key, owner string, ttl time.Duration) *Lock {
	return &Lock{
		key:   key,
		owner: owner,
		ttl:   ttl,
		store: f.store,
		retry: f.retry,
		clock: f.clock,
		bus:   f.bus,
		trace: f.trace,
	}
}
