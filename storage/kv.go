package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the string-keyed durable storage surface used to persist the
// offline action queue and session state across restarts. Values are
// JSON-serialized by callers.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// RedisKV implements KV on a Redis client. Entries never expire; they model
// the user's unsynced intent.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a RedisKV. All keys are namespaced with the prefix.
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	if client == nil {
		panic("storage.NewRedisKV: redis client is nil")
	}
	return &RedisKV{client: client, prefix: prefix}
}

func (s *RedisKV) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, time.Duration(0)).Err()
}

func (s *RedisKV) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
