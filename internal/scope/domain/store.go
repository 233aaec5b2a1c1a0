package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/cloudkitty/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrScopeNotFound     = errors.New("scope_not_found")
	ErrAmbiguousScope    = errors.New("scope_ambiguous")
	ErrInvalidIdentifier = errors.New("invalid_scope_identifier")
)

// Keys selects the non-identifier part of a scope's natural key. Empty fields
// fall back to the configured fetcher backend, collector and scope key.
type Keys struct {
	Fetcher   string
	Collector string
	ScopeKey  string
}

// Filter is AND'ed across fields and OR'ed within each list.
type Filter struct {
	Identifiers []string
	Fetchers    []string
	Collectors  []string
	ScopeKeys   []string
	Active      []bool
	pagination.Page
}

// Update lists the columns to change; nil fields are left untouched.
type Update struct {
	ScopeKey  *string
	Fetcher   *string
	Collector *string
	Active    *bool
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB, filter Filter) ([]Scope, error)
	ListIdentifiers(ctx context.Context, db *gorm.DB) ([]string, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, identifier string, keys Keys) (*Scope, error)
	FindLegacyForUpdate(ctx context.Context, db *gorm.DB, identifier string) (*Scope, error)
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Scope, error)
	Insert(ctx context.Context, db *gorm.DB, scope *Scope) error
	Save(ctx context.Context, db *gorm.DB, scope *Scope) error
}

// Store tracks per-scope checkpoints and activation.
type Store interface {
	GetAll(ctx context.Context, filter Filter) ([]Scope, error)
	GetTenants(ctx context.Context) ([]string, error)
	GetLastProcessedTimestamp(ctx context.Context, identifier string, keys Keys) (*time.Time, error)
	SetLastProcessedTimestamp(ctx context.Context, identifier string, ts time.Time, keys Keys) error
	ResetLastProcessedTimestamp(ctx context.Context, identifier string, ts time.Time, keys Keys) error
	IsStorageScopeActive(ctx context.Context, identifier string, keys Keys) (bool, error)
	UpdateStorageScope(ctx context.Context, scope Scope, update Update) error
}
