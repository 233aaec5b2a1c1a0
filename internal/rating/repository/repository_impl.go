package repository

import (
	"context"
	"errors"
	"time"

	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type stateRepo struct{}

func ProvideState() ratingdomain.StateRepository {
	return &stateRepo{}
}

func (r *stateRepo) List(ctx context.Context, db *gorm.DB) ([]ratingdomain.ModuleState, error) {
	var states []ratingdomain.ModuleState
	err := db.WithContext(ctx).Order("name ASC").Find(&states).Error
	return states, err
}

func (r *stateRepo) Get(ctx context.Context, db *gorm.DB, name string) (*ratingdomain.ModuleState, error) {
	var state ratingdomain.ModuleState
	err := db.WithContext(ctx).Where("name = ?", name).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *stateRepo) SetState(ctx context.Context, db *gorm.DB, name string, enabled bool) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&ratingdomain.ModuleState{
		Name:      name,
		Enabled:   enabled,
		Priority:  ratingdomain.DefaultPriority,
		UpdatedAt: time.Now().UTC(),
	}).Error
}

func (r *stateRepo) SetPriority(ctx context.Context, db *gorm.DB, name string, priority int) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"priority", "updated_at"}),
	}).Create(&ratingdomain.ModuleState{
		Name:      name,
		Priority:  priority,
		UpdatedAt: time.Now().UTC(),
	}).Error
}

type mappingRepo struct{}

func ProvideMapping() ratingdomain.MappingRepository {
	return &mappingRepo{}
}

func (r *mappingRepo) List(ctx context.Context, db *gorm.DB) ([]ratingdomain.Mapping, error) {
	var mappings []ratingdomain.Mapping
	err := db.WithContext(ctx).Order("metric_type ASC, id ASC").Find(&mappings).Error
	return mappings, err
}

func (r *mappingRepo) Insert(ctx context.Context, db *gorm.DB, mapping *ratingdomain.Mapping) error {
	return db.WithContext(ctx).Create(mapping).Error
}

func (r *mappingRepo) Delete(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&ratingdomain.Mapping{}).Error
}
