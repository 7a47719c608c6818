package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCounter keeps counts in process memory.
type MemoryCounter struct {
	mu   sync.Mutex
	days map[string]int64
}

// NewMemoryCounter returns an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{days: make(map[string]int64)}
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(_ context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[day]++
	return m.days[day], nil
}

// Get implements Counter.
func (m *MemoryCounter) Get(_ context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days[day], nil
}

// Purge implements Counter.
func (m *MemoryCounter) Purge(_ context.Context, keep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for day := range m.days {
		if day != keep {
			delete(m.days, day)
		}
	}
	return nil
}

// RedisCounter stores one key per day so concurrent api replicas share the cap.
type RedisCounter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCounter builds a counter under prefix (default "quota:marketplace:").
func NewRedisCounter(rdb *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "quota:marketplace:"
	}
	return &RedisCounter{rdb: rdb, prefix: prefix, ttl: 48 * time.Hour}
}

// Key returns the redis key for day.
func (r *RedisCounter) Key(day string) string {
	return r.prefix + day
}

// Incr implements Counter.
func (r *RedisCounter) Incr(ctx context.Context, day string) (int64, error) {
	key := r.Key(day)
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Get implements Counter.
func (r *RedisCounter) Get(ctx context.Context, day string) (int64, error) {
	n, err := r.rdb.Get(ctx, r.Key(day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", r.Key(day), err)
	}
	return n, nil
}

// Purge implements Counter.
func (r *RedisCounter) Purge(ctx context.Context, keep string) error {
	keepKey := r.Key(keep)
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		if key != keepKey && strings.HasPrefix(key, r.prefix) {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan quota keys: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("delete stale quota keys: %w", err)
	}
	return nil
}
