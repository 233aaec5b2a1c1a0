package repository

import (
	"context"
	"strings"
	"time"

	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() reprocessingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *reprocessingdomain.Schedule) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, f reprocessingdomain.ListFilter) ([]reprocessingdomain.Schedule, error) {
	q := db.WithContext(ctx).Model(&reprocessingdomain.Schedule{})
	if len(f.Identifiers) > 0 {
		q = q.Where("identifier IN ?", f.Identifiers)
	}
	if !f.IncludeFinished {
		q = q.Where(unfinished)
	}
	order := "id ASC"
	if strings.EqualFold(f.Order, reprocessingdomain.OrderDesc) {
		order = "id DESC"
	}

	var schedules []reprocessingdomain.Schedule
	err := f.Page.Scope(q.Order(order)).Find(&schedules).Error
	return schedules, err
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, identifier string, start, end time.Time) (*reprocessingdomain.Schedule, error) {
	var schedules []reprocessingdomain.Schedule
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identifier = ? AND start_reprocess_time = ? AND end_reprocess_time = ?",
			identifier, start.UTC(), end.UTC()).
		Where(unfinished).
		Order("id ASC").
		Limit(1).
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, nil
	}
	return &schedules[0], nil
}

func (r *repo) UpdateCurrent(ctx context.Context, db *gorm.DB, id int64, current time.Time) error {
	return db.WithContext(ctx).
		Model(&reprocessingdomain.Schedule{}).
		Where("id = ?", id).
		Update("current_reprocess_time", current.UTC()).Error
}

const unfinished = "(current_reprocess_time IS NULL OR current_reprocess_time < end_reprocess_time)"
