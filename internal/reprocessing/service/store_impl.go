package service

import (
	"context"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/clock"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  reprocessingdomain.Repository
	Clock clock.Clock
}

type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  reprocessingdomain.Repository
	clock clock.Clock
}

func NewStore(p StoreParams) reprocessingdomain.Store {
	return &Store{
		db:    p.DB,
		log:   p.Log.Named("reprocessing.store"),
		repo:  p.Repo,
		clock: p.Clock,
	}
}

// Persist inserts the schedule as-is. Bounds and overlaps are checked by
// Service.Schedule before this is reached.
func (s *Store) Persist(ctx context.Context, schedule *reprocessingdomain.Schedule) error {
	normalize(schedule, s.clock.Now())
	return s.repo.Insert(ctx, s.db, schedule)
}

func (s *Store) GetAll(ctx context.Context, filter reprocessingdomain.ListFilter) ([]reprocessingdomain.Schedule, error) {
	schedules, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	for i := range schedules {
		schedules[i] = schedules[i].Localize()
	}
	return schedules, nil
}

func (s *Store) GetFromDB(ctx context.Context, identifier string, start, end time.Time) (*reprocessingdomain.Schedule, error) {
	schedule, err := s.repo.FindActive(ctx, s.db, identifier, start, end)
	if err != nil || schedule == nil {
		return nil, err
	}
	localized := schedule.Localize()
	return &localized, nil
}

func (s *Store) UpdateReprocessingTime(ctx context.Context, identifier string, start, end, current time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		schedule, err := s.repo.FindActive(ctx, tx, identifier, start, end)
		if err != nil {
			return err
		}
		if schedule == nil {
			s.log.Warn("reprocessing.schedule.not_found",
				zap.String("scope_id", identifier),
				zap.Time("start_reprocess_time", start),
				zap.Time("end_reprocess_time", end),
			)
			return nil
		}
		return s.repo.UpdateCurrent(ctx, tx, schedule.ID, current)
	})
}

func normalize(schedule *reprocessingdomain.Schedule, now time.Time) {
	schedule.StartReprocessTime = schedule.StartReprocessTime.UTC()
	schedule.EndReprocessTime = schedule.EndReprocessTime.UTC()
	if schedule.CurrentReprocessTime != nil {
		current := schedule.CurrentReprocessTime.UTC()
		schedule.CurrentReprocessTime = &current
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now.UTC()
	}
}
