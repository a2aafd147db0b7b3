package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smallbiznis-academy/pkg/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/prometheus"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool),
)

// Dialect picks the gorm driver from DATABASE.TYPE.
func Dialect(cfg *config.Config) gorm.Dialector {
	d := cfg.Database
	switch strings.ToLower(d.Type) {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBNAME)
		return mysql.Open(dsn)
	case "sqlite":
		return sqlite.Open(d.DBNAME)
	default:
		sslmode := d.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		timezone := d.Timezone
		if timezone == "" {
			timezone = "UTC"
		}
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			d.Host, d.Port, d.User, d.Password, d.DBNAME, sslmode, timezone)
		return postgres.Open(dsn)
	}
}

// openTimeout bounds how long startup waits for the database.
const openTimeout = 30 * time.Second

func New(cfg *config.Config, dialector gorm.Dialector) (*gorm.DB, error) {
	level, showSQL := logger.Info, true
	if cfg.AppEnv == "production" {
		level, showSQL = logger.Warn, false
	}

	gcfg := &gorm.Config{
		Logger:         NewGormLogger(level, showSQL),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = openTimeout

	var db *gorm.DB
	err := backoff.RetryNotify(func() error {
		var err error
		db, err = gorm.Open(dialector, gcfg)
		return err
	}, b, func(err error, next time.Duration) {
		zap.L().Warn("[DB] database not ready", zap.Duration("retry_in", next), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}

	if cfg.Otel.Addr != "" {
		if err := Otel(db); err != nil {
			return nil, err
		}
	}
	if cfg.Database.Metrics {
		if err := Metric(db, cfg.Database.DBNAME); err != nil {
			return nil, err
		}
	}

	zap.L().Info("[DB] connected", zap.String("dialect", dialector.Name()))
	return db, nil
}

type connectionPoolParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
	Models    []Models `group:"models"`
}

// Models is the set of tables a service module contributes to the schema.
type Models []any

// AutoMigrate migrates the models contributed by each service module.
func AutoMigrate(db *gorm.DB, groups ...Models) error {
	var models []any
	for _, g := range groups {
		models = append(models, g...)
	}
	if len(models) == 0 {
		return nil
	}
	return db.AutoMigrate(models...)
}

// RegisterConnectionPool migrates the contributed models and tunes the pool.
func RegisterConnectionPool(p connectionPoolParams) error {
	if err := AutoMigrate(p.DB, p.Models...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	cp := p.Config.Database.ConnectionPool
	if cp.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cp.MaxIdleConn)
	}
	if cp.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cp.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(cp.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	zap.L().Info("[DB] schema migrated, pool configured",
		zap.Int("max_open", cp.MaxOpenConns),
		zap.Int("max_idle", cp.MaxIdleConn),
	)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})
	return nil
}

func Otel(db *gorm.DB) error {
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return fmt.Errorf("register db tracing: %w", err)
	}
	return nil
}

// Metric exposes pool and query stats on the service's own /metrics route.
func Metric(db *gorm.DB, name string) error {
	if name == "" {
		name = db.Dialector.Name()
	}
	if err := db.Use(prometheus.New(prometheus.Config{
		DBName:          name,
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		return fmt.Errorf("register db metrics: %w", err)
	}
	return nil
}
