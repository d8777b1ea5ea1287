// Package errors defines the error values shared by locks, stores and the
// registry.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrLockNotOwned is returned when a release or extend targets a lock
	// whose stored owner differs from the caller's, or that does not exist.
	ErrLockNotOwned = errors.New("verrou: lock is not owned by the caller")
	// ErrStorage matches any StorageError via errors.Is.
	ErrStorage = errors.New("verrou: lock storage error")
	// ErrNoTTL is returned when extending a lock that has no ttl and none
	// was supplied.
	ErrNoTTL = errors.New("verrou: cannot extend a lock without a ttl")
	// ErrInvalidTTL is returned for negative durations.
	ErrInvalidTTL = errors.New("verrou: ttl must not be negative")
	// ErrInvalidSnapshot is returned when restoring a lock from a snapshot
	// that lacks a key or an owner.
	ErrInvalidSnapshot = errors.New("verrou: serialized lock needs a key and an owner")

	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	ErrUnknownStore  = errors.New("verrou: unknown store")
	ErrUnknownDriver = errors.New("verrou: unknown driver")
)

// StorageError wraps a failure reported by the backend substrate.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lock storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorage as a match so callers can test the kind without
// knowing the cause.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err in a StorageError for op. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
