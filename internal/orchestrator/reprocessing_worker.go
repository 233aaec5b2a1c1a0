package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	"go.uber.org/zap"
)

// ReprocessingWorker re-rates the window of one schedule. Every period is
// purged from storage before it is rated again, and progress is recorded on
// the schedule instead of the scope checkpoint.
type ReprocessingWorker struct {
	*Worker
	schedule reprocessingdomain.Schedule
}

func NewReprocessingWorker(ctx context.Context, deps Deps, cfg Config, rater Rater, schedule reprocessingdomain.Schedule, workerID int) (*ReprocessingWorker, error) {
	w := newWorker(deps, cfg, rater, schedule.Identifier, workerID, metrics.RoleReprocessor)
	rw := &ReprocessingWorker{Worker: w, schedule: schedule}
	w.progress = rw
	if err := rw.LoadScopeKey(ctx); err != nil {
		return nil, err
	}
	w.log = w.log.With(
		zap.Int64("schedule_id", schedule.ID),
		zap.Time("reprocess_start", schedule.StartReprocessTime),
		zap.Time("reprocess_end", schedule.EndReprocessTime),
	)
	return rw, nil
}

// LoadScopeKey resolves the state row of the schedule's scope. Exactly one
// row must exist.
func (rw *ReprocessingWorker) LoadScopeKey(ctx context.Context) error {
	scopes, err := rw.deps.Scopes.GetAll(ctx, scopedomain.Filter{
		Identifiers: []string{rw.scopeID},
	})
	if err != nil {
		return err
	}
	switch len(scopes) {
	case 0:
		return fmt.Errorf("%w: %s", scopedomain.ErrScopeNotFound, rw.scopeID)
	case 1:
	default:
		return fmt.Errorf("%w: %s resolves to %d state rows", scopedomain.ErrAmbiguousScope, rw.scopeID, len(scopes))
	}

	row := scopes[0]
	rw.keys = scopedomain.Keys{
		Fetcher:   row.FetcherValue(),
		Collector: row.CollectorValue(),
		ScopeKey:  row.ScopeKeyValue(),
	}
	if rw.keys.ScopeKey == "" {
		rw.keys.ScopeKey = rw.cfg.ScopeKey
	}
	return nil
}

// ScopeKey is the groupby key whose value identifies the scope in storage.
func (rw *ReprocessingWorker) ScopeKey() string { return rw.keys.ScopeKey }

// GenerateNextTimestamp returns the next period start of schedule, or nil
// once the whole window has been reprocessed. The recorded progress is the
// end of the last reprocessed period.
func GenerateNextTimestamp(schedule reprocessingdomain.Schedule) *time.Time {
	next := schedule.StartReprocessTime
	if schedule.CurrentReprocessTime != nil {
		next = *schedule.CurrentReprocessTime
	}
	if !next.Before(schedule.EndReprocessTime) {
		return nil
	}
	ts := next.UTC()
	return &ts
}

func (rw *ReprocessingWorker) next(ctx context.Context) (*time.Time, bool, error) {
	current, err := rw.deps.Schedules.GetFromDB(ctx, rw.scopeID, rw.schedule.StartReprocessTime, rw.schedule.EndReprocessTime)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, nil
	}
	rw.schedule = *current
	return GenerateNextTimestamp(rw.schedule), false, nil
}

func (rw *ReprocessingWorker) prepare(ctx context.Context, start, end time.Time) error {
	filters := map[string]string{rw.keys.ScopeKey: rw.scopeID}
	if err := rw.deps.Storage.Delete(ctx, &start, &end, filters); err != nil {
		return fmt.Errorf("purge reprocessed period: %w", err)
	}
	rw.metrics.IncReprocessPurge()
	rw.deps.Otel.RecordStorageDelete(ctx)
	rw.logger(ctx).Debug("orchestrator.reprocess.purged",
		zap.Time("period_start", start),
		zap.Time("period_end", end),
	)
	return nil
}

func (rw *ReprocessingWorker) commit(ctx context.Context, end time.Time) error {
	err := rw.deps.Schedules.UpdateReprocessingTime(ctx,
		rw.scopeID,
		rw.schedule.StartReprocessTime,
		rw.schedule.EndReprocessTime,
		end,
	)
	if err != nil {
		return fmt.Errorf("advance reprocessing time: %w", err)
	}
	rw.schedule.CurrentReprocessTime = &end
	return nil
}
