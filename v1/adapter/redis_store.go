package adapter

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// RedisStore implements lock.Store on Redis. The lock value is the owner and
// expiration is enforced by Redis key ttls, so the server clock is
// authoritative.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	timeout   time.Duration
	closeOnce sync.Once
	closeErr  error
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
	prefix  string
}

// WithRedisTimeout sets the operation timeout for Redis calls.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithRedisPrefix namespaces every lock key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(o *redisStoreOptions) {
		o.prefix = prefix
	}
}

// NewRedisStore returns a RedisStore using client. Disconnect closes client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, prefix: o.prefix, timeout: o.timeout}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Save implements lock.Store.Save with SET NX, adding PX when ttl is set.
func (s *RedisStore) Save(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.client.SetNX(cctx, s.key(key), owner, ttl).Result()
	if err != nil {
		return false, storageError("save", err)
	}
	return ok, nil
}

// Delete implements lock.Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, key, owner string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := releaseScript.Run(cctx, s.client, []string{s.key(key)}, owner).Int64()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		return storageError("delete", err)
	}
	if n == 0 {
		return verrouerrors.ErrLockNotOwned
	}
	return nil
}

// ForceDelete implements lock.Store.ForceDelete.
func (s *RedisStore) ForceDelete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(cctx, s.key(key)).Err(); err != nil {
		return storageError("force_delete", err)
	}
	return nil
}

// Extend implements lock.Store.Extend.
func (s *RedisStore) Extend(ctx context.Context, key, owner string, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := extendScript.Run(cctx, s.client, []string{s.key(key)}, owner, pexpireMillis(ttl)).Int64()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		return storageError("extend", err)
	}
	if n == 0 {
		return verrouerrors.ErrLockNotOwned
	}
	return nil
}

// pexpireMillis rounds ttl up to whole milliseconds; PEXPIRE 0 deletes the key.
func pexpireMillis(ttl time.Duration) int64 {
	return int64((ttl + time.Millisecond - 1) / time.Millisecond)
}

// Exists implements lock.Store.Exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(cctx, s.key(key)).Result()
	if err != nil {
		return false, storageError("exists", err)
	}
	return n > 0, nil
}

// Disconnect closes the Redis client once.
func (s *RedisStore) Disconnect(context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.client.Close(); err != nil && !stdErrors.Is(err, redis.ErrClosed) {
			s.closeErr = storageError("disconnect", err)
		}
	})
	return s.closeErr
}
