package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisDeduper stores idempotency keys and their responses in Redis so every
// API instance answers a retried request the same way.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return "idem:" + userID + ":" + key
}

func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingMarker, r.ttl).Result()
}

func (r *RedisDeduper) Complete(ctx context.Context, userID, key string, body []byte) error {
	return r.client.Set(ctx, r.key(userID, key), body, r.ttl).Err()
}

func (r *RedisDeduper) Result(ctx context.Context, userID, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(data) == pendingMarker {
		return nil, nil
	}
	return data, nil
}

func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
