package featureflags

import (
	"context"
	"sync"
	"time"

	"smallbiznis-academy/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Flags used by the academy services.
const (
	PromotionEntitlementRecheck = "promotion_entitlement_recheck"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "featureflag_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "featureflag_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

type FeatureFlag interface {
	Enabled(ctx context.Context, name string, fallback bool) bool
}

// Static answers every flag from a fixed map, falling back for unknown names.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, name string, fallback bool) bool {
	if v, ok := s[name]; ok {
		return v
	}
	return fallback
}

type environmentFlags interface {
	IsFeatureEnabled(name string) (bool, error)
}

// featureflag caches the environment flags for ttl; concurrent refreshes collapse into one call.
type featureflag struct {
	fetch func() (environmentFlags, error)
	ttl   time.Duration

	mu        sync.RWMutex
	flags     environmentFlags
	fetchedAt time.Time
	group     singleflight.Group
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		zap.L().Info("flagsmith not configured, using flag defaults")
		return Static{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithBaseURL(p.Config.Flagsmith.Addr),
		flagsmith.WithAnalytics(),
	}
	client := flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...)

	return newCached(func() (environmentFlags, error) {
		flags, err := client.GetEnvironmentFlags()
		if err != nil {
			return nil, err
		}
		return &flags, nil
	}, 30*time.Second)
}

func newCached(fetch func() (environmentFlags, error), ttl time.Duration) *featureflag {
	return &featureflag{fetch: fetch, ttl: ttl}
}

func (s *featureflag) Enabled(ctx context.Context, name string, fallback bool) bool {
	flags, err := s.environment()
	if err != nil {
		zap.L().Warn("failed to fetch feature flags", zap.String("flag", name), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(name)
	if err != nil {
		return fallback
	}
	return enabled
}

func (s *featureflag) environment() (environmentFlags, error) {
	s.mu.RLock()
	flags, fetchedAt := s.flags, s.fetchedAt
	s.mu.RUnlock()

	if flags != nil && time.Since(fetchedAt) < s.ttl {
		cacheHits.Inc()
		return flags, nil
	}
	cacheMiss.Inc()

	v, err, _ := s.group.Do("environment", func() (interface{}, error) {
		fresh, err := s.fetch()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.flags, s.fetchedAt = fresh, time.Now()
		s.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		// serve stale flags rather than defaults
		if flags != nil {
			return flags, nil
		}
		return nil, err
	}
	return v.(environmentFlags), nil
}
