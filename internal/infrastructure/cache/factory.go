package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// JobLock is the lock contract shared by the Redis and in-memory locks
type JobLock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// NewJobLock returns a Redis lock when client is set, otherwise an
// in-memory lock. The in-memory lock does not protect against a second
// instance running the same job.
func NewJobLock(client redis.UniversalClient, logger *zap.Logger) JobLock {
	if client != nil {
		logger.Info("Using Redis job lock")
		return NewRedisJobLock(client, "")
	}
	logger.Warn("Redis disabled, using in-memory job lock. " +
		"Running more than one instance may execute a batch twice.")
	return NewInMemoryJobLock()
}

var (
	_ JobLock = (*InMemoryJobLock)(nil)
	_ JobLock = (*RedisJobLock)(nil)
)
