package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/clock"
	"github.com/smallbiznis/cloudkitty/internal/config"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	"github.com/smallbiznis/cloudkitty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   scopedomain.Repository
	Clock  clock.Clock
	Config config.Config
}

type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     scopedomain.Repository
	clock    clock.Clock
	defaults scopedomain.Keys
}

func New(p Params) scopedomain.Store {
	return &Store{
		db:    p.DB,
		log:   p.Log.Named("scope.store"),
		repo:  p.Repo,
		clock: p.Clock,
		defaults: scopedomain.Keys{
			Fetcher:   p.Config.Fetcher.Backend,
			Collector: p.Config.Collect.Collector,
			ScopeKey:  p.Config.Collect.ScopeKey,
		},
	}
}

func (s *Store) GetAll(ctx context.Context, filter scopedomain.Filter) ([]scopedomain.Scope, error) {
	scopes, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	for i := range scopes {
		scopes[i] = scopes[i].Localize()
	}
	return scopes, nil
}

func (s *Store) GetTenants(ctx context.Context) ([]string, error) {
	return s.repo.ListIdentifiers(ctx, s.db)
}

func (s *Store) GetLastProcessedTimestamp(ctx context.Context, identifier string, keys scopedomain.Keys) (*time.Time, error) {
	var out *time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lookup(ctx, tx, identifier, keys)
		if err != nil || scope == nil {
			return err
		}
		ts := scope.LastProcessedTimestamp.In(time.Local)
		out = &ts
		return nil
	})
	return out, err
}

func (s *Store) SetLastProcessedTimestamp(ctx context.Context, identifier string, ts time.Time, keys scopedomain.Keys) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return scopedomain.ErrInvalidIdentifier
	}
	ts = ts.UTC()

	err := s.setLastProcessed(ctx, identifier, ts, keys)
	if db.IsDuplicateKeyErr(err) {
		// Lost the creation race; the row now exists, so update it.
		s.log.Info("scope.state.create_conflict", zap.String("scope_id", identifier))
		err = s.setLastProcessed(ctx, identifier, ts, keys)
	}
	return err
}

func (s *Store) setLastProcessed(ctx context.Context, identifier string, ts time.Time, keys scopedomain.Keys) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lookup(ctx, tx, identifier, keys)
		if err != nil {
			return err
		}
		if scope != nil {
			if scope.LastProcessedTimestamp.Equal(ts) {
				return nil
			}
			scope.LastProcessedTimestamp = ts
			return s.repo.Save(ctx, tx, scope)
		}

		keys = s.withDefaults(keys)
		return s.repo.Insert(ctx, tx, &scopedomain.Scope{
			Identifier:                identifier,
			ScopeKey:                  scopedomain.StringPtr(keys.ScopeKey),
			Collector:                 scopedomain.StringPtr(keys.Collector),
			Fetcher:                   scopedomain.StringPtr(keys.Fetcher),
			LastProcessedTimestamp:    ts,
			Active:                    true,
			ScopeActivationToggleDate: s.clock.Now().UTC(),
		})
	})
}

// ResetLastProcessedTimestamp overwrites the checkpoint of an existing scope,
// backwards or forwards. Unknown scopes are not created.
func (s *Store) ResetLastProcessedTimestamp(ctx context.Context, identifier string, ts time.Time, keys scopedomain.Keys) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lookup(ctx, tx, identifier, keys)
		if err != nil {
			return err
		}
		if scope == nil {
			return scopedomain.ErrScopeNotFound
		}
		s.log.Warn("scope.state.reset",
			zap.String("scope_id", identifier),
			zap.Time("from", scope.LastProcessedTimestamp),
			zap.Time("to", ts.UTC()),
		)
		scope.LastProcessedTimestamp = ts.UTC()
		return s.repo.Save(ctx, tx, scope)
	})
}

func (s *Store) IsStorageScopeActive(ctx context.Context, identifier string, keys scopedomain.Keys) (bool, error) {
	var active bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lookup(ctx, tx, identifier, keys)
		if err != nil {
			return err
		}
		if scope == nil {
			return scopedomain.ErrScopeNotFound
		}
		active = scope.Active
		return nil
	})
	return active, err
}

func (s *Store) UpdateStorageScope(ctx context.Context, target scopedomain.Scope, update scopedomain.Update) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.repo.FindByID(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		if scope == nil {
			return scopedomain.ErrScopeNotFound
		}
		if update.ScopeKey != nil {
			scope.ScopeKey = scopedomain.StringPtr(*update.ScopeKey)
		}
		if update.Fetcher != nil {
			scope.Fetcher = scopedomain.StringPtr(*update.Fetcher)
		}
		if update.Collector != nil {
			scope.Collector = scopedomain.StringPtr(*update.Collector)
		}
		if update.Active != nil && *update.Active != scope.Active {
			scope.Active = *update.Active
			scope.ScopeActivationToggleDate = s.clock.Now().UTC()
			s.log.Info("scope.activation.toggled",
				zap.String("scope_id", scope.Identifier),
				zap.Bool("active", scope.Active),
			)
		}
		return s.repo.Save(ctx, tx, scope)
	})
}

// lookup resolves the row for identifier+keys. A legacy row with no
// fetcher/collector/scope_key is adopted and backfilled with the keys.
func (s *Store) lookup(ctx context.Context, tx *gorm.DB, identifier string, keys scopedomain.Keys) (*scopedomain.Scope, error) {
	keys = s.withDefaults(keys)

	scope, err := s.repo.FindForUpdate(ctx, tx, identifier, keys)
	if err != nil || scope != nil {
		return scope, err
	}

	scope, err = s.repo.FindLegacyForUpdate(ctx, tx, identifier)
	if err != nil || scope == nil {
		return nil, err
	}
	scope.ScopeKey = scopedomain.StringPtr(keys.ScopeKey)
	scope.Collector = scopedomain.StringPtr(keys.Collector)
	scope.Fetcher = scopedomain.StringPtr(keys.Fetcher)
	if err := s.repo.Save(ctx, tx, scope); err != nil {
		return nil, err
	}
	s.log.Info("scope.state.legacy_adopted",
		zap.String("scope_id", identifier),
		zap.String("scope_key", keys.ScopeKey),
		zap.String("collector", keys.Collector),
		zap.String("fetcher", keys.Fetcher),
	)
	return scope, nil
}

func (s *Store) withDefaults(keys scopedomain.Keys) scopedomain.Keys {
	if keys.Fetcher == "" {
		keys.Fetcher = s.defaults.Fetcher
	}
	if keys.Collector == "" {
		keys.Collector = s.defaults.Collector
	}
	if keys.ScopeKey == "" {
		keys.ScopeKey = s.defaults.ScopeKey
	}
	return keys
}
