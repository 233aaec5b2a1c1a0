package orchestrator

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cloudkitty/internal/clock"
	"github.com/smallbiznis/cloudkitty/internal/collector"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	"github.com/smallbiznis/cloudkitty/internal/ratedexport"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	storagedomain "github.com/smallbiznis/cloudkitty/internal/storage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Rater prices a collected frame. *chain.Manager implements it.
type Rater interface {
	Process(ctx context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error)
}

// Deps are the collaborators shared by every worker of a process.
type Deps struct {
	fx.In

	Scopes    scopedomain.Store
	Schedules reprocessingdomain.Store
	Collector collector.Collector
	Storage   storagedomain.Storage
	Metrics   *config.MetricsConfigHolder
	Clock     clock.Clock
	Log       *zap.Logger
	Exporter  *ratedexport.Exporter `optional:"true"`
	Otel      *metrics.Metrics      `optional:"true"`
	GenID     *snowflake.Node       `optional:"true"`
}

func (d Deps) metricTypes() []string {
	if d.Metrics == nil {
		return nil
	}
	return d.Metrics.Get().MetricTypes()
}

// MonthStart is the bootstrap checkpoint of a scope seen for the first time.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextTimestamp returns start when the period beginning there, plus the
// configured wait periods, has fully elapsed at now.
func NextTimestamp(start, now time.Time, period time.Duration, waitPeriods int) *time.Time {
	horizon := start.Add(period * time.Duration(1+waitPeriods))
	if horizon.After(now) {
		return nil
	}
	ts := start.UTC()
	return &ts
}
