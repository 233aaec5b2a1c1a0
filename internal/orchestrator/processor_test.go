package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/coordination"
	"github.com/smallbiznis/cloudkitty/internal/fetcher"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedMember(t *testing.T, f coordination.Factory) coordination.Coordinator {
	t.Helper()
	c := f.New()
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestProcessor_SkipsScopesLockedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	f.setCheckpoint(t, "tenant-a", t0)
	f.setCheckpoint(t, "tenant-b", t0)

	locks := coordination.NewMemoryFactory()
	other := startedMember(t, locks)
	_, held := other.GetLock("tenant-a")
	ok, err := held.Acquire(ctx, false)
	require.NoError(t, err)
	require.True(t, ok)

	p := NewProcessor(f.deps, f.cfg, fetcher.NewSource([]string{"tenant-a", "tenant-b"}),
		startedMember(t, locks), passthrough(), 0)
	require.NoError(t, p.InternalRun(ctx))

	assert.Zero(t, f.collector.callsFor("tenant-a"))
	assert.True(t, f.checkpoint(t, "tenant-a").Equal(t0))
	assert.True(t, f.checkpoint(t, "tenant-b").Equal(t0.Add(2*time.Hour)))

	// Released locks are picked up on the next pass.
	require.NoError(t, held.Release(ctx))
	require.NoError(t, p.InternalRun(ctx))
	assert.True(t, f.checkpoint(t, "tenant-a").Equal(t0.Add(2*time.Hour)))
}

func TestProcessor_ReleasesLocksAfterScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setCheckpoint(t, "tenant-a", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))

	locks := coordination.NewMemoryFactory()
	p := NewProcessor(f.deps, f.cfg, fetcher.NewSource([]string{"tenant-a"}),
		startedMember(t, locks), passthrough(), 0)
	require.NoError(t, p.InternalRun(ctx))

	_, lock := startedMember(t, locks).GetLock(p.GenerateLockBaseName("tenant-a"))
	ok, err := lock.Acquire(ctx, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessor_ErrorsDoNotStopThePass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	f.setCheckpoint(t, "tenant-a", t0)
	f.setCheckpoint(t, "tenant-b", t0)
	f.storage.failErr = errBoom

	p := NewProcessor(f.deps, f.cfg, fetcher.NewSource([]string{"tenant-a", "tenant-b"}),
		startedMember(t, coordination.NewMemoryFactory()), passthrough(), 0)
	err := p.InternalRun(ctx)
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, 1, f.collector.callsFor("tenant-a"))
	assert.Equal(t, 1, f.collector.callsFor("tenant-b"))
}

func TestProcessor_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.deps, f.cfg, fetcher.NewSource(nil),
		startedMember(t, coordination.NewMemoryFactory()), passthrough(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Run(ctx))
}

func TestReprocessor_LockNames(t *testing.T) {
	f := newFixture(t)
	r := NewReprocessor(f.deps, f.cfg, startedMember(t, coordination.NewMemoryFactory()), passthrough(), 0)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := reprocessingdomain.Schedule{Identifier: "tenant-a", StartReprocessTime: start, EndReprocessTime: start.Add(time.Hour)}
	b := reprocessingdomain.Schedule{Identifier: "tenant-a", StartReprocessTime: start, EndReprocessTime: start.Add(2 * time.Hour)}
	c := reprocessingdomain.Schedule{Identifier: "tenant-b", StartReprocessTime: start, EndReprocessTime: start.Add(time.Hour)}

	assert.Equal(t, "ReprocessingWorker-tenant-a-2024-03-01T00:00:00Z-2024-03-01T01:00:00Z", r.GenerateLockBaseName(a))
	assert.NotEqual(t, r.GenerateLockBaseName(a), r.GenerateLockBaseName(b))
	assert.NotEqual(t, r.GenerateLockBaseName(a), r.GenerateLockBaseName(c))

	p := NewProcessor(f.deps, f.cfg, fetcher.NewSource(nil), startedMember(t, coordination.NewMemoryFactory()), passthrough(), 0)
	assert.NotEqual(t, p.GenerateLockBaseName("tenant-a"), r.GenerateLockBaseName(a))
}

func TestReprocessor_CompletesSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	f.setCheckpoint(t, "tenant-a", start.Add(4*time.Hour))
	f.schedule(t, "tenant-a", start, start.Add(2*time.Hour))

	r := NewReprocessor(f.deps, f.cfg, startedMember(t, coordination.NewMemoryFactory()), passthrough(), 0)
	pending, err := r.LoadScopesToProcess(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, r.InternalRun(ctx))

	pending, err = r.LoadScopesToProcess(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, f.stored(t, "tenant-a", start, start.Add(2*time.Hour)), 2)
}
