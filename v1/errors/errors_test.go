package errors

import (
	"context"
	"errors"
	"testing"
)

func TestStorageWrapsAndMatches(t *testing.T) {
	cause := errors.New("boom")
	err := Storage("save", cause)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	if got, want := err.Error(), "lock storage error: save: boom"; got != want {
		t.Fatalf("message: got %q want %q", got, want)
	}
}

func TestStorageNilAndIdempotent(t *testing.T) {
	if Storage("save", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	first := Storage("save", ErrTimeout)
	if again := Storage("delete", first); again != first {
		t.Fatalf("expected already wrapped error to be returned as is, got %v", again)
	}
	if !errors.Is(first, ErrTimeout) {
		t.Fatalf("expected ErrTimeout in chain, got %v", first)
	}
	if errors.Is(first, context.Canceled) {
		t.Fatal("unexpected match on context.Canceled")
	}
}

func TestLockNotOwnedIsNotStorage(t *testing.T) {
	if errors.Is(ErrLockNotOwned, ErrStorage) {
		t.Fatal("ErrLockNotOwned must not be a storage error")
	}
}
