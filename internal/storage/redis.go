package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anders94/stablecoin-wars-backend/internal/config"
)

// RedisCache wraps the Redis client shared by the job queue and the
// endpoint rate limiter, per §5's shared-resource rules.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis connection, reconnecting with backoff
// capped at cfg.MaxBackoff.
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxConnections,
		MinIdleConns:    5,
		MaxRetries:      3,
		MaxRetryBackoff: cfg.MaxBackoff,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client.
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
