// Package prometheus collects usage with instant PromQL queries evaluated at
// the end of each period.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/collector"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	"github.com/smallbiznis/cloudkitty/internal/observability/tracing"
	"go.uber.org/zap"
)

const Name = "prometheus"

const (
	argAggregation   = "aggregation_method"
	argRangeFunction = "range_function"
	argQueryFunction = "query_function"
	argQueryPrefix   = "query_prefix"
	argQuerySuffix   = "query_suffix"

	defaultAggregation = "max"
)

var (
	aggregations   = set("avg", "count", "max", "min", "stddev", "stdvar", "sum")
	rangeFunctions = set("changes", "delta", "deriv", "idelta", "irate", "rate", "increase")
	queryFunctions = set("abs", "ceil", "exp", "floor", "ln", "log2", "log10", "round", "sqrt")
)

var ErrUnavailable = errors.New("prometheus_url_not_configured")

func set(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// QueryAPI is the part of the Prometheus HTTP API the collector uses.
type QueryAPI interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

func NewQueryAPI(cfg config.PrometheusConfig) (QueryAPI, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrUnavailable
	}
	client, err := promapi.NewClient(promapi.Config{
		Address:      cfg.URL,
		RoundTripper: tracing.WrapHTTPClient(&http.Client{}).Transport,
	})
	if err != nil {
		return nil, err
	}
	return promv1.NewAPI(client), nil
}

type Collector struct {
	api      QueryAPI
	conf     *config.MetricsConfigHolder
	scopeKey string
	timeout  time.Duration
	log      *zap.Logger
	otel     *metrics.Metrics
}

func New(api QueryAPI, conf *config.MetricsConfigHolder, cfg config.Config, log *zap.Logger, otel *metrics.Metrics) *Collector {
	return &Collector{
		api:      api,
		conf:     conf,
		scopeKey: cfg.Collect.ScopeKey,
		timeout:  cfg.Prometheus.Timeout,
		log:      log.Named("collector.prometheus"),
		otel:     otel,
	}
}

func (c *Collector) Retrieve(ctx context.Context, metricType string, start, end time.Time, scopeID string) (string, []dataframe.DataPoint, error) {
	conf, ok := c.conf.Get().Metrics[metricType]
	if !ok {
		c.otel.RecordCollectorRequest(ctx, metricType, "unknown")
		return metricType, nil, &collector.NoDataCollectedError{Collector: Name, Resource: metricType}
	}
	name := metricType
	if conf.AltName != "" {
		name = conf.AltName
	}

	query, err := BuildQuery(metricType, conf, c.scopeKey, scopeID, end.Sub(start))
	if err != nil {
		return name, nil, err
	}

	var opts []promv1.Option
	if c.timeout > 0 {
		opts = append(opts, promv1.WithTimeout(c.timeout))
	}
	value, warnings, err := c.api.Query(ctx, query, end, opts...)
	if err != nil {
		c.otel.RecordCollectorRequest(ctx, metricType, "error")
		return name, nil, fmt.Errorf("prometheus query %q: %w", query, err)
	}
	if len(warnings) > 0 {
		c.log.Warn("collector.prometheus.warnings",
			zap.String("metric_type", metricType),
			zap.Strings("warnings", warnings),
		)
	}

	vector, ok := value.(model.Vector)
	if !ok {
		c.otel.RecordCollectorRequest(ctx, metricType, "error")
		return name, nil, fmt.Errorf("prometheus query %q: unexpected result type %s", query, value.Type())
	}
	if len(vector) == 0 {
		c.otel.RecordCollectorRequest(ctx, metricType, "empty")
		return name, nil, nil
	}

	points, err := c.format(vector, conf)
	if err != nil {
		c.otel.RecordCollectorRequest(ctx, metricType, "error")
		return name, nil, err
	}
	c.otel.RecordCollectorRequest(ctx, metricType, "ok")
	return name, points, nil
}

func (c *Collector) format(vector model.Vector, conf config.MetricConfig) ([]dataframe.DataPoint, error) {
	groupKeys := withScopeKey(conf.GroupBy, c.scopeKey)

	points := make([]dataframe.DataPoint, 0, len(vector))
	for _, sample := range vector {
		groupby := make(map[string]string, len(groupKeys))
		for _, key := range groupKeys {
			groupby[key] = string(sample.Metric[model.LabelName(key)])
		}
		metadata := make(map[string]string, len(conf.Metadata))
		for _, key := range conf.Metadata {
			metadata[key] = string(sample.Metric[model.LabelName(key)])
		}

		raw, err := decimal.NewFromString(sample.Value.String())
		if err != nil {
			return nil, fmt.Errorf("sample value %s: %w", sample.Value, err)
		}
		qty, err := collector.Convert(raw, conf)
		if err != nil {
			return nil, err
		}
		points = append(points, dataframe.NewDataPoint(conf.Unit, qty, groupby, metadata))
	}

	sort.SliceStable(points, func(i, j int) bool {
		return labelKey(points[i].GroupBy, groupKeys) < labelKey(points[j].GroupBy, groupKeys)
	})
	return points, nil
}

// BuildQuery renders
// <agg>(<range_fn>(<metric>{<scope_key>="<scope>"}[<period>s])) by (<labels>)
// where range_fn defaults to <agg>_over_time.
func BuildQuery(metricType string, conf config.MetricConfig, scopeKey, scopeID string, period time.Duration) (string, error) {
	agg := defaultAggregation
	if v := strings.TrimSpace(conf.ExtraArgs[argAggregation]); v != "" {
		agg = v
	}
	if _, ok := aggregations[agg]; !ok {
		return "", fmt.Errorf("metric %s: unsupported aggregation_method %q", metricType, agg)
	}

	rangeFn := agg + "_over_time"
	if v := strings.TrimSpace(conf.ExtraArgs[argRangeFunction]); v != "" {
		if _, ok := rangeFunctions[v]; !ok {
			return "", fmt.Errorf("metric %s: unsupported range_function %q", metricType, v)
		}
		rangeFn = v
	}

	selector := fmt.Sprintf(`%s{%s=%q}[%ds]`, metricType, scopeKey, scopeID, int64(period.Seconds()))
	inner := fmt.Sprintf("%s(%s)", rangeFn, selector)
	if v := strings.TrimSpace(conf.ExtraArgs[argQueryFunction]); v != "" {
		if _, ok := queryFunctions[v]; !ok {
			return "", fmt.Errorf("metric %s: unsupported query_function %q", metricType, v)
		}
		inner = fmt.Sprintf("%s(%s)", v, inner)
	}

	labels := append(withScopeKey(conf.GroupBy, scopeKey), conf.Metadata...)
	query := fmt.Sprintf("%s(%s) by (%s)", agg, inner, strings.Join(dedupe(labels), ", "))

	if v := strings.TrimSpace(conf.ExtraArgs[argQueryPrefix]); v != "" {
		query = v + " " + query
	}
	if v := strings.TrimSpace(conf.ExtraArgs[argQuerySuffix]); v != "" {
		query = query + " " + v
	}
	return query, nil
}

func withScopeKey(groupby []string, scopeKey string) []string {
	out := append([]string(nil), groupby...)
	for _, key := range out {
		if key == scopeKey {
			return out
		}
	}
	return append(out, scopeKey)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func labelKey(labels map[string]string, keys []string) string {
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(labels[key])
		b.WriteByte(0)
	}
	return b.String()
}
