package prometheus

import (
	"context"
	"errors"
	"testing"
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/smallbiznis/cloudkitty/internal/collector"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type queryStub struct {
	value   model.Value
	err     error
	queries []string
	times   []time.Time
}

func (q *queryStub) Query(_ context.Context, query string, ts time.Time, _ ...promv1.Option) (model.Value, promv1.Warnings, error) {
	q.queries = append(q.queries, query)
	q.times = append(q.times, ts)
	return q.value, nil, q.err
}

func newTestCollector(t *testing.T, api QueryAPI) *Collector {
	t.Helper()
	holder, err := config.NewStaticMetricsConfigHolder(config.MetricsConfig{Metrics: map[string]config.MetricConfig{
		"instance": {
			Unit:     "instance",
			GroupBy:  []string{"id"},
			Metadata: []string{"flavor_name"},
			Mutate:   config.MutateNumBool,
		},
		"volume_bytes": {
			Unit:    "GiB",
			AltName: "volume.size",
			GroupBy: []string{"id"},
			Factor:  "1/1073741824",
		},
	}})
	require.NoError(t, err)
	cfg := config.Config{Collect: config.CollectConfig{ScopeKey: "project_id"}}
	return New(api, holder, cfg, zap.NewNop(), nil)
}

func TestBuildQuery(t *testing.T) {
	conf := config.MetricConfig{GroupBy: []string{"id", "project_id"}, Metadata: []string{"flavor_name"}}
	q, err := BuildQuery("instance", conf, "project_id", "p1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, `max(max_over_time(instance{project_id="p1"}[3600s])) by (id, project_id, flavor_name)`, q)

	conf.ExtraArgs = map[string]string{"aggregation_method": "sum", "range_function": "rate", "query_function": "round"}
	q, err = BuildQuery("instance", conf, "project_id", "p1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, `sum(round(rate(instance{project_id="p1"}[3600s]))) by (id, project_id, flavor_name)`, q)

	conf.ExtraArgs = map[string]string{"aggregation_method": "median"}
	_, err = BuildQuery("instance", conf, "project_id", "p1", time.Hour)
	assert.Error(t, err)
}

func TestRetrieveFormatsAndConverts(t *testing.T) {
	api := &queryStub{value: model.Vector{
		{Metric: model.Metric{"id": "vm-2", "project_id": "p1", "flavor_name": "m1.small"}, Value: 0},
		{Metric: model.Metric{"id": "vm-1", "project_id": "p1", "flavor_name": "m1.large"}, Value: 5},
	}}
	c := newTestCollector(t, api)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	name, points, err := c.Retrieve(context.Background(), "instance", start, end, "p1")
	require.NoError(t, err)
	assert.Equal(t, "instance", name)
	require.Len(t, points, 2)
	assert.Equal(t, map[string]string{"id": "vm-1", "project_id": "p1"}, points[0].GroupBy)
	assert.Equal(t, map[string]string{"flavor_name": "m1.large"}, points[0].Metadata)
	assert.Equal(t, "1", points[0].Qty.String())
	assert.Equal(t, "0", points[1].Qty.String())
	assert.True(t, api.times[0].Equal(end))
}

func TestRetrieveUsesAltNameAndFactor(t *testing.T) {
	api := &queryStub{value: model.Vector{
		{Metric: model.Metric{"id": "vol-1", "project_id": "p1"}, Value: 2147483648},
	}}
	c := newTestCollector(t, api)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	name, points, err := c.Retrieve(context.Background(), "volume_bytes", start, start.Add(time.Hour), "p1")
	require.NoError(t, err)
	assert.Equal(t, "volume.size", name)
	require.Len(t, points, 1)
	assert.Equal(t, "2", points[0].Qty.String())
	assert.Equal(t, "GiB", points[0].Unit)
}

func TestRetrieveEmptyAndUnknown(t *testing.T) {
	c := newTestCollector(t, &queryStub{value: model.Vector{}})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, points, err := c.Retrieve(context.Background(), "instance", start, start.Add(time.Hour), "p1")
	require.NoError(t, err)
	assert.Nil(t, points)

	_, _, err = c.Retrieve(context.Background(), "ghost", start, start.Add(time.Hour), "p1")
	assert.ErrorIs(t, err, collector.ErrNoDataCollected)
}

func TestRetrievePropagatesQueryErrors(t *testing.T) {
	c := newTestCollector(t, &queryStub{err: errors.New("connection refused")})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := c.Retrieve(context.Background(), "instance", start, start.Add(time.Hour), "p1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, collector.ErrNoDataCollected)
}
