package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/coordination"
	"github.com/smallbiznis/cloudkitty/internal/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(f *fixture, cfg Config, newChain RatingChainFactory) *ServiceManager {
	return NewServiceManager(ManagerParams{
		Deps:         f.deps,
		Config:       cfg,
		Fetcher:      fetcher.NewSource([]string{"tenant-a"}),
		Coordination: coordination.NewMemoryFactory(),
		NewChain:     newChain,
		Log:          zap.NewNop(),
	})
}

func stopManager(t *testing.T, m *ServiceManager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestServiceManager_RestartsFailedLoops(t *testing.T) {
	cases := []struct {
		name  string
		fault func()
	}{
		{name: "chain build error", fault: nil},
		{name: "panic", fault: func() { panic("rating chain exploded") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cfg := f.cfg
			cfg.MaxWorkers = 1
			cfg.MaxWorkersReprocessing = 0

			var calls atomic.Int32
			m := newManager(f, cfg, func(context.Context) (RatingChain, func(), error) {
				if calls.Add(1) == 1 {
					if tc.fault != nil {
						tc.fault()
					}
					return nil, nil, errBoom
				}
				return passthrough(), func() {}, nil
			})

			require.NoError(t, m.Start(context.Background()))
			assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
			assert.Eventually(t, func() bool { return f.checkpoint(t, "tenant-a") != nil }, 2*time.Second, 10*time.Millisecond)
			stopManager(t, m)
		})
	}
}

func TestServiceManager_ZeroWorkersDisablesRole(t *testing.T) {
	f := newFixture(t)
	cfg := f.cfg
	cfg.MaxWorkers = 0
	cfg.MaxWorkersReprocessing = 1

	var calls atomic.Int32
	m := newManager(f, cfg, func(context.Context) (RatingChain, func(), error) {
		calls.Add(1)
		return passthrough(), func() {}, nil
	})
	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Only the reprocessor runs, so the fetched scope is never rated.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.collector.callsFor("tenant-a"))
	assert.Equal(t, int32(1), calls.Load())
	stopManager(t, m)
}

func TestServiceManager_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	m := newManager(f, f.cfg, func(context.Context) (RatingChain, func(), error) {
		return passthrough(), func() {}, nil
	})
	stopManager(t, m)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	stopManager(t, m)
	stopManager(t, m)
}
