package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the ledger with redis so multiple orchestrations share one
// quota budget. Counter keys expire two days after their day boundary; the
// rollover itself is implicit in the day-scoped key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "adpilot"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) cacheKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", s.prefix, key)
}

func (s *RedisStore) counterKey(day, api string) string {
	return fmt.Sprintf("%s:quota:%s:%s", s.prefix, day, api)
}

func (s *RedisStore) GetEntry(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache read: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("redis cache decode: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) PutEntry(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis cache encode: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.cacheKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache write: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrCounter(ctx context.Context, day, api string) (int64, error) {
	key := s.counterKey(day, api)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis counter incr: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) GetCounter(ctx context.Context, day, api string) (int64, error) {
	n, err := s.client.Get(ctx, s.counterKey(day, api)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis counter read: %w", err)
	}
	return n, nil
}
