package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implémente ports.CounterStore. INCR/DECR sont atomiques
// côté Redis : plusieurs callers concurrents sur la même clé n'ont besoin
// d'aucun verrou applicatif.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counter incr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisCounterStore) Decrement(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counter decr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("counter expire %s: %w", key, err)
	}
	return nil
}

func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counter ttl %s: %w", key, err)
	}
	return ttl, nil
}
