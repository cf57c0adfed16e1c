package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis creates and validates a go-redis client connection.
// An empty URL means queues are disabled: it returns (nil, nil).
// Every worker parks one connection in BRPOP, so the pool is sized to
// workers plus headroom for enqueues, DLQ writes and health checks.
func NewRedis(redisURL string, workers int) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if floor := workers + 10; opts.PoolSize < floor {
		opts.PoolSize = floor
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}
