package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// checkTimeout bounds each dependency probe so a hung backend fails readiness
// instead of hanging the probe.
const checkTimeout = 2 * time.Second

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type health struct {
	checks []Check
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	var checks []Check
	if p.DB != nil {
		checks = append(checks, Check{Name: p.DB.Name(), Probe: func(ctx context.Context) error {
			sqlDB, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		checks = append(checks, Check{Name: "redis", Probe: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}
	if p.Vault != nil {
		checks = append(checks, Check{Name: "vault", Probe: func(ctx context.Context) error {
			_, err := p.Vault.System.ReadHealthStatus(ctx)
			return err
		}})
	}
	return New(checks...)
}

func New(checks ...Check) HealthService {
	return &health{checks: checks}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: StatusHealthy, Message: "OK"})
}

func (h *health) Readiness(c *gin.Context) {
	deps := make([]Dependency, len(h.checks))

	var g errgroup.Group
	for i, chk := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
			defer cancel()

			deps[i] = Dependency{Name: chk.Name, Status: StatusHealthy, Message: "OK"}
			if err := chk.Probe(ctx); err != nil {
				deps[i].Status = StatusUnhealthy
				deps[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &Health{Status: StatusHealthy, Message: "OK", Deps: deps}
	code := http.StatusOK
	for _, d := range deps {
		if d.Status != StatusHealthy {
			res.Status = StatusUnhealthy
			res.Message = "dependency check failed"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, res)
}
