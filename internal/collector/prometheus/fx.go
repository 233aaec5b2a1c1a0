package prometheus

import (
	"fmt"

	"github.com/smallbiznis/cloudkitty/internal/collector"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("collector.prometheus",
	fx.Provide(func(cfg config.Config) (QueryAPI, error) {
		return NewQueryAPI(cfg.Prometheus)
	}),
	fx.Provide(NewCollector),
)

type Params struct {
	fx.In

	API     QueryAPI
	Metrics *config.MetricsConfigHolder
	Config  config.Config
	Log     *zap.Logger
	Otel    *metrics.Metrics `optional:"true"`
}

func NewCollector(p Params) (collector.Collector, error) {
	if p.Config.Collect.Collector != Name {
		return nil, fmt.Errorf("unsupported collector %q", p.Config.Collect.Collector)
	}
	return New(p.API, p.Metrics, p.Config, p.Log, p.Otel), nil
}
