package dispatch

import (
	"context"
	"sync"
	"time"

	platformredis "auditoria/internal/platform/redis"
)

// KeyStore reserves idempotency keys so the same logical job is enqueued at
// most once per TTL window.
type KeyStore interface {
	// Reserve claims the key. It returns false when the key is already held.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees a key early, allowing the job to be enqueued again.
	Release(ctx context.Context, key string) error
}

// MemoryKeyStore keeps reservations in-process. Used in tests and in
// single-node deployments without Redis.
type MemoryKeyStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{expires: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryKeyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryKeyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, key)
	return nil
}

// RedisKeyStore backs reservations with SETNX so they hold across instances.
type RedisKeyStore struct {
	client *platformredis.Client
	prefix string
}

func NewRedisKeyStore(client *platformredis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client, prefix: "dispatch:key:"}
}

func (s *RedisKeyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
}

func (s *RedisKeyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
