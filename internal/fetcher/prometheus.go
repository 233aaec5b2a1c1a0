package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	collectorprom "github.com/smallbiznis/cloudkitty/internal/collector/prometheus"
	"github.com/smallbiznis/cloudkitty/internal/config"
)

// Prometheus discovers scopes as the distinct values of one label.
type Prometheus struct {
	api       collectorprom.QueryAPI
	metric    string
	attribute string
	filters   map[string]string
	now       func() time.Time
}

func NewPrometheus(api collectorprom.QueryAPI, cfg config.FetcherConfig, now func() time.Time) (*Prometheus, error) {
	if strings.TrimSpace(cfg.PrometheusMetric) == "" {
		return nil, errors.New("fetcher prometheus metric is required")
	}
	if strings.TrimSpace(cfg.PrometheusScopeAttribute) == "" {
		return nil, errors.New("fetcher prometheus scope attribute is required")
	}
	return &Prometheus{
		api:       api,
		metric:    cfg.PrometheusMetric,
		attribute: cfg.PrometheusScopeAttribute,
		filters:   cfg.PrometheusFilters,
		now:       now,
	}, nil
}

// Query renders max(<metric>{<filters>}) by (<attribute>).
func (p *Prometheus) Query() string {
	keys := make([]string, 0, len(p.filters))
	for k := range p.filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	matchers := make([]string, 0, len(keys))
	for _, k := range keys {
		matchers = append(matchers, fmt.Sprintf("%s=%q", k, p.filters[k]))
	}
	selector := p.metric
	if len(matchers) > 0 {
		selector += "{" + strings.Join(matchers, ", ") + "}"
	}
	return fmt.Sprintf("max(%s) by (%s)", selector, p.attribute)
}

func (p *Prometheus) GetTenants(ctx context.Context) ([]string, error) {
	query := p.Query()
	value, _, err := p.api.Query(ctx, query, p.now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query %q: %w", query, err)
	}
	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("prometheus query %q: unexpected result type %s", query, value.Type())
	}
	ids := make([]string, 0, len(vector))
	for _, sample := range vector {
		ids = append(ids, string(sample.Metric[model.LabelName(p.attribute)]))
	}
	return normalize(ids), nil
}
