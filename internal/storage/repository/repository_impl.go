package repository

import (
	"context"

	storagedomain "github.com/smallbiznis/cloudkitty/internal/storage/domain"
	"github.com/smallbiznis/cloudkitty/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 500

type repo struct{}

func Provide() storagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, points []storagedomain.RatedDataPoint) error {
	if len(points) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(points, insertBatchSize).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, q storagedomain.Query, scopeKey string) (int64, error) {
	res := apply(db.WithContext(ctx), q, scopeKey).Delete(&storagedomain.RatedDataPoint{})
	return res.RowsAffected, res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, q storagedomain.Query, scopeKey string, page pagination.Page) ([]storagedomain.RatedDataPoint, error) {
	tx := apply(db.WithContext(ctx).Model(&storagedomain.RatedDataPoint{}), q, scopeKey).
		Order("begin_at ASC, type ASC, id ASC")

	var points []storagedomain.RatedDataPoint
	err := page.Scope(tx).Find(&points).Error
	return points, err
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, q storagedomain.Query, scopeKey string) (int64, error) {
	var total int64
	err := apply(db.WithContext(ctx).Model(&storagedomain.RatedDataPoint{}), q, scopeKey).Count(&total).Error
	return total, err
}

func apply(tx *gorm.DB, q storagedomain.Query, scopeKey string) *gorm.DB {
	if q.Begin != nil {
		tx = tx.Where("begin_at >= ?", q.Begin.UTC())
	}
	if q.End != nil {
		tx = tx.Where("begin_at < ?", q.End.UTC())
	}
	if len(q.MetricTypes) > 0 {
		tx = tx.Where("type IN ?", q.MetricTypes)
	}
	for key, value := range q.Filters {
		if key == scopeKey || key == storagedomain.GroupByScope {
			tx = tx.Where("scope_id = ?", value)
			continue
		}
		tx = tx.Where(datatypes.JSONQuery("groupby").Equals(value, key))
	}
	return tx
}
