package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/clock"
	"github.com/smallbiznis/cloudkitty/internal/collector"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	reprocessingrepo "github.com/smallbiznis/cloudkitty/internal/reprocessing/repository"
	reprocessingservice "github.com/smallbiznis/cloudkitty/internal/reprocessing/service"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	scoperepo "github.com/smallbiznis/cloudkitty/internal/scope/repository"
	scopeservice "github.com/smallbiznis/cloudkitty/internal/scope/service"
	storagedomain "github.com/smallbiznis/cloudkitty/internal/storage/domain"
	storagerepo "github.com/smallbiznis/cloudkitty/internal/storage/repository"
	storageservice "github.com/smallbiznis/cloudkitty/internal/storage/service"
	"github.com/smallbiznis/cloudkitty/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// stubCollector returns one cpu point per call unless told otherwise.
type stubCollector struct {
	mu      sync.Mutex
	noData  map[string]bool
	err     error
	calls   int
	byScope map[string]int
}

func (c *stubCollector) Retrieve(_ context.Context, metricType string, _, _ time.Time, scopeID string) (string, []dataframe.DataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.byScope == nil {
		c.byScope = make(map[string]int)
	}
	c.byScope[scopeID]++
	if c.err != nil {
		return "", nil, c.err
	}
	if c.noData[metricType] {
		return "", nil, &collector.NoDataCollectedError{Collector: "stub", Resource: metricType}
	}
	point := dataframe.NewDataPoint("instance", decimal.NewFromInt(3),
		map[string]string{"id": "vm-1", "project_id": scopeID},
		map[string]string{"flavor": "m1.small"},
	)
	return metricType, []dataframe.DataPoint{point}, nil
}

func (c *stubCollector) callsFor(scopeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byScope[scopeID]
}

// countingStorage records pushes and can be told to fail them.
type countingStorage struct {
	storagedomain.Storage
	mu      sync.Mutex
	pushes  int
	failErr error
}

func (s *countingStorage) Push(ctx context.Context, frames []*dataframe.DataFrame, scopeID string) error {
	s.mu.Lock()
	failErr := s.failErr
	s.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	if err := s.Storage.Push(ctx, frames, scopeID); err != nil {
		return err
	}
	s.mu.Lock()
	s.pushes++
	s.mu.Unlock()
	return nil
}

func (s *countingStorage) pushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

// raterFunc adapts a function to RatingChain.
type raterFunc func(ctx context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error)

func (f raterFunc) Process(ctx context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	return f(ctx, frame)
}

func (raterFunc) ApplyPending(context.Context) error { return nil }

func passthrough() raterFunc {
	return func(_ context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error) {
		return frame, nil
	}
}

func failing(err error) raterFunc {
	return func(context.Context, *dataframe.DataFrame) (*dataframe.DataFrame, error) {
		return nil, err
	}
}

var errBoom = errors.New("boom")

type fixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	scopes    scopedomain.Store
	schedules reprocessingdomain.Store
	storage   *countingStorage
	collector *stubCollector
	deps      Deps
	cfg       Config
}

func newFixture(t *testing.T, models ...any) *fixture {
	t.Helper()
	models = append([]any{
		&scopedomain.Scope{},
		&reprocessingdomain.Schedule{},
		&storagedomain.RatedDataPoint{},
	}, models...)
	conn := dbtest.Open(t, models...)
	clk := clock.NewFakeClock(now)
	log := zap.NewNop()

	appCfg := config.Config{
		Collect: config.CollectConfig{
			Period:    time.Hour,
			Collector: "prometheus",
			ScopeKey:  "project_id",
		},
		Fetcher: config.FetcherConfig{Backend: "source"},
	}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	holder, err := config.NewStaticMetricsConfigHolder(config.MetricsConfig{
		Metrics: map[string]config.MetricConfig{
			"cpu": {Unit: "instance", GroupBy: []string{"id", "project_id"}},
		},
	})
	require.NoError(t, err)

	scopes := scopeservice.New(scopeservice.Params{
		DB: conn, Log: log, Repo: scoperepo.Provide(), Clock: clk, Config: appCfg,
	})
	schedules := reprocessingservice.NewStore(reprocessingservice.StoreParams{
		DB: conn, Log: log, Repo: reprocessingrepo.Provide(), Clock: clk,
	})
	storage := &countingStorage{Storage: storageservice.New(storageservice.Params{
		DB: conn, Log: log, Repo: storagerepo.Provide(), GenID: node, Clock: clk, Config: appCfg,
	})}
	coll := &stubCollector{}

	return &fixture{
		db:        conn,
		clock:     clk,
		scopes:    scopes,
		schedules: schedules,
		storage:   storage,
		collector: coll,
		deps: Deps{
			Scopes:    scopes,
			Schedules: schedules,
			Collector: coll,
			Storage:   storage,
			Metrics:   holder,
			Clock:     clk,
			Log:       log,
			GenID:     node,
		},
		cfg: Config{
			Period:                 time.Hour,
			WaitPeriods:            2,
			ScopeKey:               "project_id",
			MaxThreads:             2,
			PassInterval:           10 * time.Millisecond,
			RestartInitialInterval: 10 * time.Millisecond,
			RestartMaxInterval:     50 * time.Millisecond,
		},
	}
}

func (f *fixture) checkpoint(t *testing.T, scopeID string) *time.Time {
	t.Helper()
	ts, err := f.scopes.GetLastProcessedTimestamp(context.Background(), scopeID, scopedomain.Keys{})
	require.NoError(t, err)
	return ts
}

func (f *fixture) setCheckpoint(t *testing.T, scopeID string, ts time.Time) {
	t.Helper()
	require.NoError(t, f.scopes.SetLastProcessedTimestamp(context.Background(), scopeID, ts, scopedomain.Keys{}))
}

func (f *fixture) setActive(t *testing.T, scopeID string, active bool) {
	t.Helper()
	ctx := context.Background()
	rows, err := f.scopes.GetAll(ctx, scopedomain.Filter{Identifiers: []string{scopeID}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, f.scopes.UpdateStorageScope(ctx, rows[0], scopedomain.Update{Active: &active}))
}

func (f *fixture) stored(t *testing.T, scopeID string, begin, end time.Time) []storagedomain.RatedDataPoint {
	t.Helper()
	var rows []storagedomain.RatedDataPoint
	require.NoError(t, f.db.
		Where("scope_id = ? AND begin_at >= ? AND begin_at < ?", scopeID, begin.UTC(), end.UTC()).
		Order("begin_at ASC").
		Find(&rows).Error)
	return rows
}
