package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "eventadmin:"

// RedisStorage persists credential entries in Redis.
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage connects to the Redis server named by redisURL and pings it.
func NewRedisStorage(ctx context.Context, redisURL string) (*RedisStorage, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("tokenstore.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tokenstore.redis.ping: %w", pingErr)
	}
	return NewRedisStorageWithClient(client), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// Get reads the entry stored under key.
func (storage *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	value, err := storage.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("tokenstore.get.redis: %w", err)
	}
	return value, true, nil
}

// Set overwrites the entry stored under key without expiry.
func (storage *RedisStorage) Set(ctx context.Context, key string, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := storage.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("tokenstore.set.redis: %w", err)
	}
	return nil
}

// Remove deletes the entry stored under key.
func (storage *RedisStorage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := storage.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("tokenstore.remove.redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (storage *RedisStorage) Close() error {
	return storage.client.Close()
}
