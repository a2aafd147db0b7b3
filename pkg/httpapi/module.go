package httpapi

import (
	"encoding/json"
	"net/http"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/health"
	"smallbiznis-academy/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoint, registerOperationalRoutes),
)

// NewEngine builds the gin engine every service registers its routes on.
// Paths gin does not know fall through to the grpc-gateway mux.
func NewEngine(cfg *config.Config, mux *runtime.ServeMux) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.ActorHandler(),
		middleware.AccessLog(),
		middleware.Error(),
	)
	engine.NoRoute(gin.WrapH(mux))

	return engine
}

func registerOperationalRoutes(engine *gin.Engine, h health.HealthService) {
	engine.GET("/health/liveness", h.Liveness)
	engine.GET("/health/readiness", h.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerHealthEndpoint(mux *runtime.ServeMux) {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}); err != nil {
		zap.L().Error("failed to register health endpoint", zap.Error(err))
	}
}
