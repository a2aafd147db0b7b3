// Package otelcol sets up the OpenTelemetry providers shared by the gRPC server
// and the gorm tracing plugin.
package otelcol

import (
	"context"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		NewResource,
		fx.Annotate(NewTracerProvider, fx.As(new(trace.TracerProvider))),
		fx.Annotate(NewMeterProvider, fx.As(new(metric.MeterProvider))),
	),
)

func NewResource(cfg *config.Config) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("service.namespace", cfg.AppNamespace),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
}

// NewTracerProvider exports spans over OTLP when OTEL.ADDR is set; otherwise spans are
// sampled locally and dropped. The provider becomes the global one.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.Otel.Addr != "" {
		exp, err := exporters.New(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		zap.L().Info("[Otel] exporting traces", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

// NewMeterProvider backs the otelgrpc instruments. Application counters are exposed
// through prometheus on /metrics.
func NewMeterProvider(lc fx.Lifecycle, res *resource.Resource) *sdkmetric.MeterProvider {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})
	return mp
}
