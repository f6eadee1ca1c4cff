package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerStore holds short-lived idempotency markers keyed by string. A
// marker either exists (the action happened recently) or it does not.
type MarkerStore interface {
	// SetIfAbsent claims the key with the given TTL. Returns true if the
	// key was newly claimed, false if it already existed.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Exists reports whether the key is currently set.
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisMarkerStore implements MarkerStore on Redis using SET NX with TTL.
type RedisMarkerStore struct {
	client *redis.Client
	prefix string
}

// NewRedisMarkerStore creates a Redis-backed marker store. All keys are
// namespaced under the given prefix.
func NewRedisMarkerStore(client *redis.Client, prefix string) *RedisMarkerStore {
	if prefix == "" {
		prefix = "dedup"
	}
	return &RedisMarkerStore{client: client, prefix: prefix}
}

func (s *RedisMarkerStore) key(k string) string {
	return fmt.Sprintf("%s:%s", s.prefix, k)
}

func (s *RedisMarkerStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set marker: %w", err)
	}
	return ok, nil
}

func (s *RedisMarkerStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker: %w", err)
	}
	return n > 0, nil
}

// MemoryMarkerStore is an in-memory MarkerStore for tests and for running
// without Redis. Expired entries are dropped lazily on access.
type MemoryMarkerStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryMarkerStore creates an empty in-memory marker store.
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source; used in tests.
func (s *MemoryMarkerStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryMarkerStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[key]; ok && expiry.After(now) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryMarkerStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !expiry.After(s.now()) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}
