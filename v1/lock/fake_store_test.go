package lock

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

type fakeEntry struct {
	owner     string
	expiresAt time.Time
}

// fakeStore is a minimal Store used to observe how Lock drives its backend.
type fakeStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]fakeEntry

	saves   int
	extends int
	saveErr error
	busy    bool
}

func newFakeStore(c clock.Clock) *fakeStore {
	if c == nil {
		c = clock.New()
	}
	return &fakeStore{clock: c, entries: make(map[string]fakeEntry)}
}

func (s *fakeStore) live(key string) (fakeEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && e.expiresAt.Before(s.clock.Now()) {
		return e, false
	}
	return e, true
}

func (s *fakeStore) Save(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return false, verrouerrors.Storage("save", s.saveErr)
	}
	if s.busy {
		return false, nil
	}
	if _, ok := s.live(key); ok {
		return false, nil
	}
	e := fakeEntry{owner: owner}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

func (s *fakeStore) Delete(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.owner != owner {
		return verrouerrors.ErrLockNotOwned
	}
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) ForceDelete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) Extend(_ context.Context, key, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extends++
	e, ok := s.entries[key]
	if !ok || e.owner != owner {
		return verrouerrors.ErrLockNotOwned
	}
	e.expiresAt = s.clock.Now().Add(ttl)
	s.entries[key] = e
	return nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok, nil
}

func (s *fakeStore) Disconnect(context.Context) error { return nil }

func (s *fakeStore) counts() (saves, extends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.extends
}
