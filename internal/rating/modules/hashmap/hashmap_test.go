package hashmap

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
	"github.com/smallbiznis/cloudkitty/internal/rating/repository"
	"github.com/smallbiznis/cloudkitty/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:    dbtest.Open(t, &ratingdomain.Mapping{}),
		Log:   zap.NewNop(),
		Repo:  repository.ProvideMapping(),
		GenID: node,
	})
}

func mustAdd(t *testing.T, m *Module, mapping ratingdomain.Mapping) {
	t.Helper()
	_, err := m.AddMapping(context.Background(), mapping)
	require.NoError(t, err)
}

func testFrame() *dataframe.DataFrame {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	df := dataframe.New(start, start.Add(time.Hour))
	df.AddPoints("instance",
		dataframe.NewDataPoint("instance", decimal.NewFromInt(2),
			map[string]string{"project_id": "p1", "id": "vm-1"},
			map[string]string{"flavor_name": "m1.large"}),
		dataframe.NewDataPoint("instance", decimal.NewFromInt(3),
			map[string]string{"project_id": "p2", "id": "vm-2"},
			map[string]string{"flavor_name": "m1.small"}),
	)
	df.AddPoint("volume.size", dataframe.NewDataPoint("GiB", decimal.NewFromInt(10), nil, nil))
	return df
}

func TestHashmap_FlatAndRateRules(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	mustAdd(t, m, ratingdomain.Mapping{MetricType: "instance", MapType: ratingdomain.MapTypeFlat, Cost: decimal.RequireFromString("0.5")})
	mustAdd(t, m, ratingdomain.Mapping{MetricType: "instance", Field: "flavor_name", Value: "m1.large", MapType: ratingdomain.MapTypeFlat, Cost: decimal.RequireFromString("1.5")})
	mustAdd(t, m, ratingdomain.Mapping{MetricType: "instance", Field: "project_id", Value: "p1", MapType: ratingdomain.MapTypeRate, Cost: decimal.RequireFromString("2")})
	require.NoError(t, m.ReloadConfig(ctx))

	out, err := m.Process(ctx, testFrame())
	require.NoError(t, err)

	instances := out.Points("instance")
	require.Len(t, instances, 2)
	assert.Equal(t, "6", instances[0].Price.String())
	assert.Equal(t, "1.5", instances[1].Price.String())
	assert.True(t, out.Points("volume.size")[0].Price.IsZero())
}

func TestHashmap_RulesApplyOnlyAfterReload(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	mustAdd(t, m, ratingdomain.Mapping{MetricType: "volume.size", MapType: ratingdomain.MapTypeFlat, Cost: decimal.RequireFromString("0.01")})

	out, err := m.Process(ctx, testFrame())
	require.NoError(t, err)
	assert.True(t, out.TotalPrice().IsZero())

	require.NoError(t, m.ReloadConfig(ctx))
	out, err = m.Process(ctx, testFrame())
	require.NoError(t, err)
	assert.Equal(t, "0.1", out.Points("volume.size")[0].Price.String())
}

func TestHashmap_AccumulatesOnExistingPrice(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	mustAdd(t, m, ratingdomain.Mapping{MetricType: "volume.size", MapType: ratingdomain.MapTypeFlat, Cost: decimal.RequireFromString("0.1")})
	require.NoError(t, m.ReloadConfig(ctx))

	df := testFrame()
	points := df.Points("volume.size")
	points[0] = points[0].SetPrice(decimal.RequireFromString("0.25"))
	df.SetPoints("volume.size", points)

	out, err := m.Process(ctx, df)
	require.NoError(t, err)
	assert.Equal(t, "1.25", out.Points("volume.size")[0].Price.String())
}

func TestHashmap_AddMappingValidation(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	cases := []ratingdomain.Mapping{
		{MapType: ratingdomain.MapTypeFlat, Cost: decimal.NewFromInt(1)},
		{MetricType: "cpu", MapType: "tiered", Cost: decimal.NewFromInt(1)},
		{MetricType: "cpu", MapType: ratingdomain.MapTypeRate, Cost: decimal.NewFromInt(-1)},
		{MetricType: "cpu", Value: "x", MapType: ratingdomain.MapTypeRate, Cost: decimal.NewFromInt(1)},
	}
	for _, mapping := range cases {
		_, err := m.AddMapping(ctx, mapping)
		assert.ErrorIs(t, err, ratingdomain.ErrInvalidMapping)
	}
}
