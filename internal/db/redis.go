package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"region-service/internal/config"
)

// NewRedis connects to redis and verifies the connection with a ping.
// It returns nil, nil when no address is configured.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
