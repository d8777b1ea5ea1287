// Package registry routes lock operations to named stores. Each store gets
// its own lock.Factory, built the first time the store is used.
package registry

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/bobg/errors"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/lock"
)

// StoreFactory builds a store on first use.
type StoreFactory func() (lock.Store, error)

// Registry maps store names to lazily built lock factories.
type Registry struct {
	def    string
	stores map[string]StoreFactory
	opts   []lock.FactoryOption

	mu        sync.Mutex
	factories map[string]*lock.Factory
}

// New returns a Registry over stores with def as the default store. opts
// apply to every factory the registry builds.
func New(def string, stores map[string]StoreFactory, opts ...lock.FactoryOption) (*Registry, error) {
	if _, ok := stores[def]; !ok {
		return nil, errors.Wrapf(verrouerrors.ErrUnknownStore, "default store %q", def)
	}
	copied := make(map[string]StoreFactory, len(stores))
	for name, f := range stores {
		copied[name] = f
	}
	return &Registry{
		def:       def,
		stores:    copied,
		opts:      opts,
		factories: make(map[string]*lock.Factory),
	}, nil
}

// Default returns the default store name.
func (r *Registry) Default() string {
	return r.def
}

// Names returns the configured store names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use returns the factory for the named store, building the store on the
// first call. Subsequent calls return the same factory.
func (r *Registry) Use(name string) (*lock.Factory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.factories[name]; ok {
		return f, nil
	}
	build, ok := r.stores[name]
	if !ok {
		return nil, errors.Wrapf(verrouerrors.ErrUnknownStore, "store %q", name)
	}
	store, err := build()
	if err != nil {
		return nil, errors.Wrapf(err, "building store %q", name)
	}
	f := lock.NewFactory(store, r.opts...)
	r.factories[name] = f
	return f, nil
}

// CreateLock creates a lock on the default store.
func (r *Registry) CreateLock(name string, opts ...lock.LockOption) (*lock.Lock, error) {
	f, err := r.Use(r.def)
	if err != nil {
		return nil, err
	}
	return f.CreateLock(name, opts...), nil
}

// RestoreLock restores a serialized lock on the default store.
func (r *Registry) RestoreLock(s lock.SerializedLock) (*lock.Lock, error) {
	f, err := r.Use(r.def)
	if err != nil {
		return nil, err
	}
	return f.RestoreLock(s)
}

// Disconnect disconnects the default store if it was built. The factory
// stays cached, so locks created afterwards talk to the disconnected store.
// Stores wrapping a caller-owned client cannot be rebuilt once that client
// is closed.
func (r *Registry) Disconnect(ctx context.Context) error {
	return r.disconnect(ctx, r.def)
}

// DisconnectStore disconnects the named store if it was built.
func (r *Registry) DisconnectStore(ctx context.Context, name string) error {
	if _, ok := r.stores[name]; !ok {
		return errors.Wrapf(verrouerrors.ErrUnknownStore, "store %q", name)
	}
	return r.disconnect(ctx, name)
}

func (r *Registry) disconnect(ctx context.Context, name string) error {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Disconnect(ctx)
}

// DisconnectAll disconnects every built store and returns the joined
// failures.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.Lock()
	built := make(map[string]*lock.Factory, len(r.factories))
	for name, f := range r.factories {
		built[name] = f
	}
	r.mu.Unlock()

	var errs []error
	for name, f := range built {
		if err := f.Disconnect(ctx); err != nil {
			slog.Warn("verrou: failed to disconnect store", "store", name, "error", err)
			errs = append(errs, errors.Wrapf(err, "disconnecting store %q", name))
		}
	}
	return stdErrors.Join(errs...)
}
