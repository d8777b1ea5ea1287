package lock

import (
	"context"
	"time"
)

// NoExpiration marks a lease that never expires.
const NoExpiration time.Duration = 0

// Store persists lock records and provides the atomic primitives a Lock
// is built on. Every implementation must behave identically:
//
//   - Save creates the record when absent, or takes it over when the stored
//     expiration is in the past, and reports whether owner is now the live
//     holder. It never returns true for two callers holding at once.
//   - Delete removes the record only when owner matches, otherwise it fails
//     with errors.ErrLockNotOwned and leaves the record untouched.
//   - ForceDelete removes the record without checking the owner.
//   - Extend sets expiration to now+ttl, rounded up to a whole millisecond,
//     when owner holds a non-expired record. Otherwise it fails with
//     errors.ErrLockNotOwned.
//   - Exists reports whether a non-expired record exists for key.
//   - Disconnect releases backend resources and may be called repeatedly.
//
// Unexpected backend failures are reported as *errors.StorageError.
type Store interface {
	Save(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key, owner string) error
	ForceDelete(ctx context.Context, key string) error
	Extend(ctx context.Context, key, owner string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Disconnect(ctx context.Context) error
}
