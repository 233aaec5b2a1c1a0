package repository

import (
	"context"

	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() scopedomain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB, f scopedomain.Filter) ([]scopedomain.Scope, error) {
	q := db.WithContext(ctx).Model(&scopedomain.Scope{})
	if len(f.Identifiers) > 0 {
		q = q.Where("identifier IN ?", f.Identifiers)
	}
	if len(f.Fetchers) > 0 {
		q = q.Where("fetcher IN ?", f.Fetchers)
	}
	if len(f.Collectors) > 0 {
		q = q.Where("collector IN ?", f.Collectors)
	}
	if len(f.ScopeKeys) > 0 {
		q = q.Where("scope_key IN ?", f.ScopeKeys)
	}
	if len(f.Active) > 0 {
		q = q.Where("active IN ?", f.Active)
	}

	var scopes []scopedomain.Scope
	err := f.Page.Scope(q.Order("id ASC")).Find(&scopes).Error
	return scopes, err
}

func (r *repo) ListIdentifiers(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&scopedomain.Scope{}).
		Distinct("identifier").
		Order("identifier ASC").
		Pluck("identifier", &ids).Error
	return ids, err
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, identifier string, keys scopedomain.Keys) (*scopedomain.Scope, error) {
	var scopes []scopedomain.Scope
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identifier = ? AND fetcher = ? AND collector = ? AND scope_key = ?",
			identifier, keys.Fetcher, keys.Collector, keys.ScopeKey).
		Limit(1).
		Find(&scopes).Error
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	return &scopes[0], nil
}

func (r *repo) FindLegacyForUpdate(ctx context.Context, db *gorm.DB, identifier string) (*scopedomain.Scope, error) {
	var scopes []scopedomain.Scope
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identifier = ? AND fetcher IS NULL AND collector IS NULL AND scope_key IS NULL", identifier).
		Limit(1).
		Find(&scopes).Error
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	return &scopes[0], nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*scopedomain.Scope, error) {
	var scopes []scopedomain.Scope
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&scopes).Error
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	return &scopes[0], nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *scopedomain.Scope) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, s *scopedomain.Scope) error {
	return db.WithContext(ctx).
		Model(&scopedomain.Scope{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"scope_key":                    s.ScopeKey,
			"collector":                    s.Collector,
			"fetcher":                      s.Fetcher,
			"last_processed_timestamp":     s.LastProcessedTimestamp.UTC(),
			"active":                       s.Active,
			"scope_activation_toggle_date": s.ScopeActivationToggleDate.UTC(),
		}).Error
}
