package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

const defaultDatabaseOpTimeout = 5 * time.Second

// LockRecord is one row of the lock table. Expiration is in milliseconds
// since the Unix epoch, nil for a lock that never expires.
type LockRecord struct {
	Key        string
	Owner      string
	Expiration *int64
}

// DatabaseAdapter is the dialect-specific part of DatabaseStore. Each method
// runs a single statement so atomicity comes from the database itself.
type DatabaseAdapter interface {
	// CreateTableIfNotExists creates the lock table, tolerating a concurrent
	// creator.
	CreateTableIfNotExists(ctx context.Context) error
	// InsertLock inserts rec and reports false on a primary key conflict.
	InsertLock(ctx context.Context, rec LockRecord) (bool, error)
	// AcquireExpiredLock overwrites the row for rec.Key with rec when its
	// expiration is at or before now, reporting whether a row changed.
	AcquireExpiredLock(ctx context.Context, rec LockRecord, now int64) (bool, error)
	// DeleteLock removes the row for key held by owner and returns the
	// number of deleted rows.
	DeleteLock(ctx context.Context, key, owner string) (int64, error)
	// ForceDeleteLock removes the row for key whoever holds it.
	ForceDeleteLock(ctx context.Context, key string) error
	// ExtendLock sets the expiration of the row held by owner, provided it
	// has not expired at now, and returns the number of updated rows.
	ExtendLock(ctx context.Context, key, owner string, expiration, now int64) (int64, error)
	// GetLock returns the row for key, nil when there is none.
	GetLock(ctx context.Context, key string) (*LockRecord, error)
	// Close releases the connection.
	Close() error
}

// DatabaseStore implements lock.Store on a SQL table through a
// DatabaseAdapter. Expirations are computed with the store clock, so every
// process sharing the table needs reasonably synchronised clocks.
type DatabaseStore struct {
	adapter    DatabaseAdapter
	clock      clock.Clock
	timeout    time.Duration
	autoCreate bool

	mu         sync.Mutex
	tableReady bool

	closeOnce sync.Once
	closeErr  error
}

// DatabaseOption configures a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithDatabaseClock sets the clock used to compute expirations.
func WithDatabaseClock(c clock.Clock) DatabaseOption {
	return func(s *DatabaseStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDatabaseTimeout sets the per-statement timeout.
func WithDatabaseTimeout(d time.Duration) DatabaseOption {
	return func(s *DatabaseStore) {
		s.timeout = d
	}
}

// WithoutTableCreation assumes the lock table already exists.
func WithoutTableCreation() DatabaseOption {
	return func(s *DatabaseStore) {
		s.autoCreate = false
	}
}

// NewDatabaseStore returns a DatabaseStore over adapter. The table is created
// lazily on first use.
func NewDatabaseStore(adapter DatabaseAdapter, opts ...DatabaseOption) *DatabaseStore {
	s := &DatabaseStore{
		adapter:    adapter,
		clock:      clock.New(),
		timeout:    defaultDatabaseOpTimeout,
		autoCreate: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DatabaseStore) ensureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tableReady || !s.autoCreate {
		return nil
	}
	if err := s.adapter.CreateTableIfNotExists(ctx); err != nil {
		return storageError("create_table", err)
	}
	s.tableReady = true
	return nil
}

func (s *DatabaseStore) prepare(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := checkContext(ctx); err != nil {
		return nil, nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	if err := s.ensureTable(cctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return cctx, cancel, nil
}

func (s *DatabaseStore) expiration(ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	exp := ceilMillis(s.clock.Now().Add(ttl))
	return &exp
}

// ceilMillis rounds t up to whole epoch milliseconds so a sub-millisecond
// lease never collapses onto the current instant.
func ceilMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

// Save implements lock.Store.Save. It tries an insert first and falls back
// to taking over an expired row.
func (s *DatabaseStore) Save(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	rec := LockRecord{Key: key, Owner: owner, Expiration: s.expiration(ttl)}
	inserted, err := s.adapter.InsertLock(cctx, rec)
	if err != nil {
		return false, storageError("save", err)
	}
	if inserted {
		return true, nil
	}
	taken, err := s.adapter.AcquireExpiredLock(cctx, rec, s.clock.Now().UnixMilli())
	if err != nil {
		return false, storageError("save", err)
	}
	return taken, nil
}

// Delete implements lock.Store.Delete.
func (s *DatabaseStore) Delete(ctx context.Context, key, owner string) error {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	n, err := s.adapter.DeleteLock(cctx, key, owner)
	if err != nil {
		return storageError("delete", err)
	}
	if n == 0 {
		return verrouerrors.ErrLockNotOwned
	}
	return nil
}

// ForceDelete implements lock.Store.ForceDelete.
func (s *DatabaseStore) ForceDelete(ctx context.Context, key string) error {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := s.adapter.ForceDeleteLock(cctx, key); err != nil {
		return storageError("force_delete", err)
	}
	return nil
}

// Extend implements lock.Store.Extend.
func (s *DatabaseStore) Extend(ctx context.Context, key, owner string, ttl time.Duration) error {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	now := s.clock.Now()
	n, err := s.adapter.ExtendLock(cctx, key, owner, ceilMillis(now.Add(ttl)), now.UnixMilli())
	if err != nil {
		return storageError("extend", err)
	}
	if n == 0 {
		return verrouerrors.ErrLockNotOwned
	}
	return nil
}

// Exists implements lock.Store.Exists.
func (s *DatabaseStore) Exists(ctx context.Context, key string) (bool, error) {
	cctx, cancel, err := s.prepare(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	rec, err := s.adapter.GetLock(cctx, key)
	if err != nil {
		return false, storageError("exists", err)
	}
	if rec == nil {
		return false, nil
	}
	if rec.Expiration == nil {
		return true, nil
	}
	return *rec.Expiration > s.clock.Now().UnixMilli(), nil
}

// Disconnect closes the adapter once.
func (s *DatabaseStore) Disconnect(context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = storageError("disconnect", s.adapter.Close())
	})
	return s.closeErr
}
