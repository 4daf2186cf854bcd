package redis

import (
	"context"
	"fmt"
	"time"

	"fleet-tracking/internal/general/config"
	"fleet-tracking/internal/general/logger"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and verifies connectivity with a bounded ping.
func NewClient(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info(ctx, "redis_connected", "Connected to Redis", map[string]any{"addr": cfg.Addr, "db": cfg.DB})
	return rdb, nil
}
