package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateStore remembers when a rate-limit key last fired. Reserve must be atomic per key so that
// two instances sharing one store cannot both claim the same window.
type RateStore interface {
	// Reserve claims key for window starting at at, unless a previous claim is still inside its window.
	Reserve(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error)
	// Sweep drops bookkeeping for keys last claimed before cutoff and returns how many were dropped.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryRateStore is a single-process RateStore.
type MemoryRateStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryRateStore creates an empty in-process store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{last: make(map[string]time.Time)}
}

// Reserve implements RateStore.
func (m *MemoryRateStore) Reserve(_ context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[key]; ok && at.Sub(prev) < window {
		return false, nil
	}
	m.last[key] = at
	return true, nil
}

// Sweep implements RateStore.
func (m *MemoryRateStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, t := range m.last {
		if t.Before(cutoff) {
			delete(m.last, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (m *MemoryRateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

const rateKeyPrefix = "arena:ratelimit:"

// RedisRateStore shares rate-limit windows between server instances via SET NX PX.
// Keys expire with their window, so Sweep has nothing to do.
type RedisRateStore struct {
	client *redis.Client
}

// NewRedisRateStore creates a Redis-backed RateStore.
func NewRedisRateStore(client *redis.Client) *RedisRateStore {
	return &RedisRateStore{client: client}
}

// Reserve implements RateStore. The window is measured by Redis, so at is only stored for debugging.
func (r *RedisRateStore) Reserve(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	return r.client.SetNX(ctx, rateKeyPrefix+key, at.UnixMilli(), window).Result()
}

// Sweep implements RateStore.
func (r *RedisRateStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
