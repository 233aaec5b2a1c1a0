package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/clock"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	"github.com/smallbiznis/cloudkitty/internal/reprocessing/repository"
	"github.com/smallbiznis/cloudkitty/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var hour = time.Hour

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn := dbtest.Open(t, &reprocessingdomain.Schedule{})
	return NewStore(StoreParams{
		DB:    conn,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
	}).(*Store)
}

func TestStore_GetAllExcludesFinished(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	pending := &reprocessingdomain.Schedule{Identifier: "a", Reason: "fix", StartReprocessTime: t0, EndReprocessTime: t0.Add(3 * hour)}
	done := t0.Add(3 * hour)
	finished := &reprocessingdomain.Schedule{Identifier: "b", Reason: "fix", StartReprocessTime: t0, EndReprocessTime: t0.Add(3 * hour), CurrentReprocessTime: &done}
	partial := t0.Add(hour)
	running := &reprocessingdomain.Schedule{Identifier: "c", Reason: "fix", StartReprocessTime: t0, EndReprocessTime: t0.Add(3 * hour), CurrentReprocessTime: &partial}
	for _, s := range []*reprocessingdomain.Schedule{pending, finished, running} {
		require.NoError(t, store.Persist(ctx, s))
	}

	active, err := store.GetAll(ctx, reprocessingdomain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].Identifier)
	assert.Equal(t, "c", active[1].Identifier)

	all, err := store.GetAll(ctx, reprocessingdomain.ListFilter{IncludeFinished: true, Order: reprocessingdomain.OrderDesc})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Identifier)
	assert.True(t, all[1].Finished())

	onlyA, err := store.GetAll(ctx, reprocessingdomain.ListFilter{Identifiers: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Nil(t, onlyA[0].CurrentReprocessTime)
}

func TestStore_UpdateReprocessingTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := t0.Add(2 * hour)
	require.NoError(t, store.Persist(ctx, &reprocessingdomain.Schedule{Identifier: "a", Reason: "fix", StartReprocessTime: t0, EndReprocessTime: end}))

	require.NoError(t, store.UpdateReprocessingTime(ctx, "a", t0, end, t0))
	got, err := store.GetFromDB(ctx, "a", t0, end)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.CurrentReprocessTime)
	assert.True(t, got.CurrentReprocessTime.Equal(t0))
	assert.False(t, got.Finished())

	require.NoError(t, store.UpdateReprocessingTime(ctx, "a", t0, end, end))
	got, err = store.GetFromDB(ctx, "a", t0, end)
	require.NoError(t, err)
	assert.Nil(t, got, "finished schedules are not returned")
}

func TestStore_UpdateReprocessingTimeUnknownIsNoop(t *testing.T) {
	store := newTestStore(t)
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, store.UpdateReprocessingTime(context.Background(), "missing", t0, t0.Add(hour), t0))
}
