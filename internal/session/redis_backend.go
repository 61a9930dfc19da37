package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "dishexplorer-session||"

var _ Backend = (*RedisBackend)(nil)

// RedisBackend keeps the record of one browser context in redis. Keys never expire.
type RedisBackend struct {
	redisClient redis.Cmdable
	scope       string
}

func NewRedisBackend(redisClient redis.Cmdable, browserContextID string) *RedisBackend {
	return &RedisBackend{
		redisClient: redisClient,
		scope:       browserContextID,
	}
}

func (rb *RedisBackend) key(key string) string {
	return fmt.Sprintf("%s%s||%s", sessionKeyPrefix, rb.scope, key)
}

func (rb *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := rb.redisClient.Get(ctx, rb.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (rb *RedisBackend) Set(ctx context.Context, key, value string) error {
	return rb.redisClient.Set(ctx, rb.key(key), value, 0).Err()
}

func (rb *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKeys = append(redisKeys, rb.key(k))
	}
	return rb.redisClient.Del(ctx, redisKeys...).Err()
}
