package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/db"
	"smallbiznis-academy/pkg/featureflags"
	"smallbiznis-academy/pkg/gen"
	"smallbiznis-academy/pkg/hashistack/secretmanager"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/otelcol"
	"smallbiznis-academy/pkg/profiling"
	"smallbiznis-academy/pkg/redis"
	"smallbiznis-academy/pkg/sequence"
	"smallbiznis-academy/pkg/task"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/seat"
	"smallbiznis-academy/services/sweeper"
)

// The worker runs sweeps and delivers notifications. It serves no HTTP API.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		gen.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		sequence.Module,
		featureflags.Module,
		otelcol.Module,
		profiling.Module,

		notification.Module,
		notification.Worker,
		license.Module,
		seat.Module,
		sweeper.Module,
		sweeper.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
