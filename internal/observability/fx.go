package observability

import (
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/observability/logger"
	"github.com/smallbiznis/partnerledger/internal/observability/metrics"
	"github.com/smallbiznis/partnerledger/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	logger.Module,
	fx.Provide(tracing.NewProvider),
	fx.Provide(func(cfg config.Config) metrics.Config {
		return metrics.Config{ServiceName: cfg.AppName, Environment: cfg.Environment}
	}),
	fx.Provide(func(cfg metrics.Config) *metrics.EngineMetrics {
		return metrics.EngineWithConfig(cfg)
	}),
	fx.Provide(func(cfg metrics.Config, _ *sdktrace.TracerProvider) (*metrics.HTTPMetrics, error) {
		return metrics.NewHTTPMetrics(cfg, otel.GetMeterProvider())
	}),
)
