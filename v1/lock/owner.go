package lock

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// OwnerFunc generates owner identities for new locks.
type OwnerFunc func() string

// DefaultOwner returns a random UUIDv4 string.
func DefaultOwner() string {
	return uuid.NewString()
}

// RandomOwners draws owner identities from r. It panics if r fails, like
// uuid.NewString does with the system source.
func RandomOwners(r io.Reader) OwnerFunc {
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return uuid.Must(uuid.NewRandomFromReader(r)).String()
	}
}

// SequentialOwners yields prefix-1, prefix-2, ...
func SequentialOwners(prefix string) OwnerFunc {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
