package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ipick/shop-analytics/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// A slow cache must not hold up a report; lookups give up quickly and the
// service rebuilds instead.
const (
	cachePoolSize     = 20
	cacheDialTimeout  = 2 * time.Second
	cacheReadTimeout  = 500 * time.Millisecond
	cacheWriteTimeout = 500 * time.Millisecond
)

// RedisDB is the report cache connection.
type RedisDB struct {
	Client *redis.Client
	logger *zap.Logger
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   ApplicationName,
		PoolSize:     cachePoolSize,
		DialTimeout:  cacheDialTimeout,
		ReadTimeout:  cacheReadTimeout,
		WriteTimeout: cacheWriteTimeout,
	}
}

// NewRedisDB connects to the cache. The client is closed again when the
// first ping fails.
func NewRedisDB(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisDB, error) {
	client := redis.NewClient(redisOptions(cfg))

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := pingWithin(ctx, connectTimeout, ping); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis cache ready", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &RedisDB{Client: client, logger: logger}, nil
}

func (r *RedisDB) Close() error {
	if r.Client == nil {
		return nil
	}
	r.logger.Info("Redis cache closed")
	return r.Client.Close()
}

func (r *RedisDB) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
