package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/clock"
	"github.com/smallbiznis/cloudkitty/internal/config"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	"github.com/smallbiznis/cloudkitty/internal/reprocessing/repository"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	"github.com/smallbiznis/cloudkitty/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scopeStoreStub struct {
	scopedomain.Store
	scopes []scopedomain.Scope
}

func (s *scopeStoreStub) GetAll(_ context.Context, f scopedomain.Filter) ([]scopedomain.Scope, error) {
	if len(f.Identifiers) == 0 {
		return s.scopes, nil
	}
	want := map[string]bool{}
	for _, id := range f.Identifiers {
		want[id] = true
	}
	var out []scopedomain.Scope
	for _, scope := range s.scopes {
		if want[scope.Identifier] {
			out = append(out, scope)
		}
	}
	return out, nil
}

var (
	lastProcessed = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	now           = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn := dbtest.Open(t, &reprocessingdomain.Schedule{})
	return New(Params{
		DB:   conn,
		Log:  zap.NewNop(),
		Repo: repository.Provide(),
		Scopes: &scopeStoreStub{scopes: []scopedomain.Scope{
			{ID: 1, Identifier: "tenant-a", LastProcessedTimestamp: lastProcessed},
			{ID: 2, Identifier: "tenant-b", LastProcessedTimestamp: lastProcessed.Add(-24 * time.Hour)},
		}},
		Clock:  clock.NewFakeClock(now),
		Config: config.Config{Collect: config.CollectConfig{Period: time.Hour}},
	}).(*Service)
}

func request(ids []string, start, end time.Time) reprocessingdomain.ScheduleRequest {
	return reprocessingdomain.ScheduleRequest{ScopeIDs: ids, Start: start, End: end, Reason: "pricing fix"}
}

func assertInvalid(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, reprocessingdomain.ErrInvalidSchedule)
	assert.Contains(t, err.Error(), contains)
}

func TestService_ScheduleValidation(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	cases := []struct {
		name     string
		req      reprocessingdomain.ScheduleRequest
		contains string
	}{
		{
			name:     "blank_reason",
			req:      reprocessingdomain.ScheduleRequest{ScopeIDs: []string{"tenant-a"}, Start: start, End: end, Reason: "   "},
			contains: "blank reason",
		},
		{
			name:     "end_before_start",
			req:      request([]string{"tenant-a"}, end, start),
			contains: "cannot be less than start",
		},
		{
			name:     "misaligned_start",
			req:      request([]string{"tenant-a"}, start.Add(90*time.Minute), end),
			contains: "Valid values are: [2024-03-01T01:00:00Z] or [2024-03-01T02:00:00Z]",
		},
		{
			name:     "future_end",
			req:      request([]string{"tenant-a"}, start, now.Add(time.Hour)),
			contains: "in the future",
		},
		{
			name:     "after_last_processed",
			req:      request([]string{"tenant-b"}, start, lastProcessed),
			contains: "ending after the last possible timestamp",
		},
		{
			name:     "start_after_last_processed",
			req:      request([]string{"tenant-b"}, lastProcessed, lastProcessed),
			contains: "starting after the last possible timestamp",
		},
		{
			name:     "unknown_scope",
			req:      request([]string{"tenant-a", "ghost"}, start, end),
			contains: "[ghost]",
		},
		{
			name:     "all_mixed",
			req:      request([]string{reprocessingdomain.AllScopes, "tenant-a"}, start, end),
			contains: "'ALL'",
		},
		{
			name:     "no_scope",
			req:      request(nil, start, end),
			contains: "At least one scope",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t)
			_, err := svc.Schedule(context.Background(), tc.req)
			assertInvalid(t, err, tc.contains)
		})
	}
}

func TestService_ScheduleRejectsOverlap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	created, err := svc.Schedule(ctx, request([]string{"tenant-a"}, start, start.Add(4*time.Hour)))
	require.NoError(t, err)
	require.Len(t, created, 1)

	_, err = svc.Schedule(ctx, request([]string{"tenant-a"}, start.Add(3*time.Hour), start.Add(6*time.Hour)))
	assertInvalid(t, err, "similar time range")

	// Adjacent windows do not overlap.
	_, err = svc.Schedule(ctx, request([]string{"tenant-a"}, start.Add(4*time.Hour), start.Add(6*time.Hour)))
	require.NoError(t, err)

	// Another scope is unaffected.
	_, err = svc.Schedule(ctx, request([]string{"tenant-b"}, start, start.Add(4*time.Hour)))
	require.NoError(t, err)
}

func TestService_ScheduleIgnoresFinishedForOverlap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	created, err := svc.Schedule(ctx, request([]string{"tenant-a"}, start, end))
	require.NoError(t, err)
	require.NoError(t, svc.repo.UpdateCurrent(ctx, svc.db, created[0].ID, end))

	_, err = svc.Schedule(ctx, request([]string{"tenant-a"}, start, end))
	require.NoError(t, err)
}

func TestService_ScheduleAllScopes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	created, err := svc.Schedule(ctx, request([]string{reprocessingdomain.AllScopes}, start, start.Add(time.Hour)))
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "tenant-a", created[0].Identifier)
	assert.Equal(t, "tenant-b", created[1].Identifier)

	listed, err := svc.List(ctx, reprocessingdomain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	for _, schedule := range listed {
		assert.Nil(t, schedule.CurrentReprocessTime)
		assert.Equal(t, "pricing fix", schedule.Reason)
	}
}
