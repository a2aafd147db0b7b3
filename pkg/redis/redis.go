package redis

import (
	"context"
	"time"

	"smallbiznis-academy/pkg/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// readyTimeout is how long startup waits for redis before carrying on without it.
const readyTimeout = 15 * time.Second

func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	log := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = readyTimeout

	err := backoff.RetryNotify(func() error {
		return rdb.Ping(context.Background()).Err()
	}, b, func(err error, next time.Duration) {
		log.Warn("[Redis] not ready", zap.Duration("retry_in", next), zap.Error(err))
	})
	if err != nil {
		// sequence codes and the task queue fail per call until redis comes back
		log.Error("[Redis] unreachable, continuing", zap.Error(err))
	} else {
		log.Info("[Redis] connected")
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}
