package otelcol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/otelcol/exporters"
)

func TestTracerProviderWithoutCollector(t *testing.T) {
	cfg := &config.Config{AppName: "academy", AppEnv: "test"}
	lc := fxtest.NewLifecycle(t)

	res, err := NewResource(cfg)
	require.NoError(t, err)

	tp, err := NewTracerProvider(lc, cfg, res)
	require.NoError(t, err)
	mp := NewMeterProvider(lc, res)
	require.NotNil(t, mp.Meter("academy"))

	lc.RequireStart()

	_, span := tp.Tracer("academy").Start(context.Background(), "enroll")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	lc.RequireStop()
}

func TestUnsupportedProtocol(t *testing.T) {
	cfg := &config.Config{}
	cfg.Otel.Addr = "collector:4317"
	cfg.Otel.Protocol = "thrift"

	_, err := exporters.New(cfg)
	require.Error(t, err)
}
