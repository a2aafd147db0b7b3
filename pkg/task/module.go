package task

import (
	"context"
	"fmt"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(newClient, NewEnqueuer),
)

// newClient shares the connection pool of the service's go-redis client.
func newClient(lc fx.Lifecycle, rdb *redis.Client) (*asynq.Client, error) {
	client := asynq.NewClientFromRedisClient(rdb)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("asynq: redis unreachable: %w", err)
	}

	zap.L().Info("[Asynq] client connected")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

var Server = fx.Module("asynq:server",
	fx.Provide(asynq.NewServeMux),
	fx.Invoke(startServer),
)

// Queues is the priority weighting the worker polls with. Notifications sit on the
// low queue so a backlog of them never delays a sweep.
var Queues = map[string]int{
	taskname.QueueCritical: 6,
	taskname.QueueDefault:  3,
	taskname.QueueLow:      1,
}

func serverConfig(cfg *config.Config) asynq.Config {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.Config{
		Concurrency:     concurrency,
		Queues:          Queues,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			zap.L().Error("[Asynq] task failed",
				zap.String("task_type", t.Type()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	}
}

func startServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		serverConfig(cfg),
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("asynq: start server: %w", err)
			}
			zap.L().Info("[Asynq] worker started", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
