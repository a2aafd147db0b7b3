package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-academy/pkg/accesscontrol"
	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/db"
	"smallbiznis-academy/pkg/featureflags"
	"smallbiznis-academy/pkg/gen"
	"smallbiznis-academy/pkg/hashistack/secretmanager"
	"smallbiznis-academy/pkg/hashistack/servicediscover"
	"smallbiznis-academy/pkg/health"
	"smallbiznis-academy/pkg/httpapi"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/otelcol"
	"smallbiznis-academy/pkg/profiling"
	"smallbiznis-academy/pkg/redis"
	"smallbiznis-academy/pkg/sequence"
	"smallbiznis-academy/pkg/server"
	"smallbiznis-academy/pkg/task"
	"smallbiznis-academy/services/company"
	"smallbiznis-academy/services/enrollment"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/person"
	"smallbiznis-academy/services/seat"
	"smallbiznis-academy/services/sweeper"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		gen.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		featureflags.Module,
		otelcol.Module,
		profiling.Module,
		health.Module,
		accesscontrol.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		httpapi.Module,
		servicediscover.Module,

		notification.Module,
		license.Module,
		license.Gateway,
		person.Module,
		seat.Module,
		seat.Gateway,
		company.Module,
		company.Gateway,
		enrollment.Module,
		enrollment.Gateway,
		sweeper.Module,
		sweeper.Gateway,
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
