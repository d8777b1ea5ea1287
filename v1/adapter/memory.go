package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

type memoryLock struct {
	sem       *semaphore.Weighted
	held      bool
	owner     string
	expiresAt time.Time
}

func (m *memoryLock) expired(now time.Time) bool {
	return !m.expiresAt.IsZero() && !m.expiresAt.After(now)
}

func (m *memoryLock) release() {
	if !m.held {
		return
	}
	m.sem.Release(1)
	m.held = false
	m.owner = ""
	m.expiresAt = time.Time{}
}

// MemoryStore implements lock.Store in process memory. It only coordinates
// goroutines of the same process.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	locks map[string]*memoryLock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for expirations.
func WithMemoryClock(c clock.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock: clock.New(),
		locks: make(map[string]*memoryLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save implements lock.Store.Save.
func (s *MemoryStore) Save(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	m, ok := s.locks[key]
	if !ok {
		m = &memoryLock{sem: semaphore.NewWeighted(1)}
		s.locks[key] = m
	}
	if m.held && m.expired(now) {
		slog.Debug("verrou: taking over expired lock", "key", key, "owner", m.owner)
		m.release()
	}
	if !m.sem.TryAcquire(1) {
		return false, nil
	}
	m.held = true
	m.owner = owner
	if ttl > 0 {
		m.expiresAt = now.Add(ttl)
	}
	return true, nil
}

// Delete implements lock.Store.Delete.
func (s *MemoryStore) Delete(ctx context.Context, key, owner string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.locks[key]
	if !ok || !m.held || m.owner != owner {
		return verrouerrors.ErrLockNotOwned
	}
	m.release()
	delete(s.locks, key)
	return nil
}

// ForceDelete implements lock.Store.ForceDelete.
func (s *MemoryStore) ForceDelete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.locks[key]; ok {
		m.release()
		delete(s.locks, key)
	}
	return nil
}

// Extend implements lock.Store.Extend. An expired lease can no longer be
// extended, even before another owner takes it.
func (s *MemoryStore) Extend(ctx context.Context, key, owner string, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	m, ok := s.locks[key]
	if !ok || !m.held || m.owner != owner || m.expired(now) {
		return verrouerrors.ErrLockNotOwned
	}
	m.expiresAt = now.Add(ttl)
	return nil
}

// Exists implements lock.Store.Exists.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.locks[key]
	if !ok || !m.held {
		return false, nil
	}
	return !m.expired(s.clock.Now()), nil
}

// Disconnect implements lock.Store.Disconnect. Memory holds no resources.
func (s *MemoryStore) Disconnect(context.Context) error {
	return nil
}
