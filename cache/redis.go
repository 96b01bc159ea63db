package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by
// RedisBackend. Keeping it as an interface enables mocking in tests.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisConfig holds configuration for the Redis backend.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend stores lock state in Redis, for deployments where
// multiple nodes share one cache and invalidation must be visible to
// all of them.
type RedisBackend struct {
	cfg    RedisConfig
	client RedisClient
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping failed: %w", err)
	}
	return &RedisBackend{cfg: cfg, client: client}, nil
}

// NewRedisBackendWithClient wraps a pre-built client. Intended for
// testing.
func NewRedisBackendWithClient(cfg RedisConfig, client RedisClient) *RedisBackend {
	return &RedisBackend{cfg: cfg, client: client}
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error { return r.client.Close() }

// Get retrieves a cached value. A missing key is a miss, not an error.
func (r *RedisBackend) Get(ctx context.Context, key string) (uint64, bool, error) {
	val, err := r.client.Get(ctx, r.prefixed(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: redis get: %w", err)
	}
	bits, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		// Treat a corrupt entry as a miss; the loader repopulates it.
		return 0, false, nil
	}
	return bits, true, nil
}

// Set stores a value with the given TTL.
func (r *RedisBackend) Set(ctx context.Context, key string, bits uint64, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefixed(key), strconv.FormatUint(bits, 10), ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (r *RedisBackend) prefixed(key string) string {
	return r.cfg.Prefix + key
}
