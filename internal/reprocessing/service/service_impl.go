package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/clock"
	"github.com/smallbiznis/cloudkitty/internal/config"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   reprocessingdomain.Repository
	Scopes scopedomain.Store
	Clock  clock.Clock
	Config config.Config
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   reprocessingdomain.Repository
	scopes scopedomain.Store
	clock  clock.Clock
	period time.Duration
}

func New(p Params) reprocessingdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("reprocessing.service"),
		repo:   p.Repo,
		scopes: p.Scopes,
		clock:  p.Clock,
		period: p.Config.Collect.Period,
	}
}

func (s *Service) List(ctx context.Context, filter reprocessingdomain.ListFilter) ([]reprocessingdomain.Schedule, error) {
	schedules, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	for i := range schedules {
		schedules[i] = schedules[i].Localize()
	}
	return schedules, nil
}

// Schedule validates req against every target scope and, only if all checks
// pass, records one schedule per scope in a single transaction.
func (s *Service) Schedule(ctx context.Context, req reprocessingdomain.ScheduleRequest) ([]reprocessingdomain.Schedule, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invalid("Empty or blank reason text is not allowed. Please, do inform/register the reason for the reprocessing of a previously processed timestamp.")
	}
	start, end := req.Start.UTC(), req.End.UTC()
	if end.Before(start) {
		return nil, invalid("End reprocessing timestamp [%s] cannot be less than start reprocessing timestamp [%s].",
			formatTS(end), formatTS(start))
	}
	for _, ts := range []time.Time{start, end} {
		if err := s.checkAlignment(ts); err != nil {
			return nil, err
		}
	}
	now := s.clock.Now().UTC()
	if end.After(now) {
		return nil, invalid("End reprocessing timestamp [%s] cannot be in the future [now=%s].", formatTS(end), formatTS(now))
	}

	scopes, err := s.resolveScopes(ctx, req.ScopeIDs)
	if err != nil {
		return nil, err
	}

	for _, scope := range scopes {
		last := scope.LastProcessedTimestamp.UTC()
		if start.After(last) {
			return nil, invalid("Cannot execute a reprocessing [start=%s] for scope [%s] starting after the last possible timestamp [%s].",
				formatTS(start), scope.Identifier, formatTS(last))
		}
		if end.After(last) {
			return nil, invalid("Cannot execute a reprocessing [end=%s] for scope [%s] ending after the last possible timestamp [%s].",
				formatTS(end), scope.Identifier, formatTS(last))
		}
	}

	identifiers := uniqueIdentifiers(scopes)
	existing, err := s.repo.List(ctx, s.db, reprocessingdomain.ListFilter{Identifiers: identifiers})
	if err != nil {
		return nil, err
	}
	for _, schedule := range existing {
		if schedule.Overlaps(start, end) {
			return nil, invalid("Cannot schedule a reprocessing for scope [%s] for reprocessing time [%s, %s], because it already has a schedule for a similar time range [%s, %s].",
				schedule.Identifier, formatTS(start), formatTS(end),
				formatTS(schedule.StartReprocessTime), formatTS(schedule.EndReprocessTime))
		}
	}

	created := make([]reprocessingdomain.Schedule, 0, len(identifiers))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, identifier := range identifiers {
			schedule := reprocessingdomain.Schedule{
				Identifier:         identifier,
				Reason:             reason,
				StartReprocessTime: start,
				EndReprocessTime:   end,
				CreatedAt:          now,
			}
			if err := s.repo.Insert(ctx, tx, &schedule); err != nil {
				return err
			}
			created = append(created, schedule)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reprocessing.schedule.created",
		zap.Strings("scope_ids", identifiers),
		zap.Time("start_reprocess_time", start),
		zap.Time("end_reprocess_time", end),
		zap.String("reason", reason),
	)
	return created, nil
}

func (s *Service) resolveScopes(ctx context.Context, ids []string) ([]scopedomain.Scope, error) {
	cleaned := make([]string, 0, len(ids))
	all := false
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if id == reprocessingdomain.AllScopes {
			all = true
			continue
		}
		cleaned = append(cleaned, id)
	}
	if all && len(cleaned) > 0 {
		return nil, invalid("Cannot use 'ALL' with scope IDs.")
	}
	if !all && len(cleaned) == 0 {
		return nil, invalid("At least one scope ID or 'ALL' is required.")
	}

	filter := scopedomain.Filter{}
	if !all {
		filter.Identifiers = cleaned
	}
	scopes, err := s.scopes.GetAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	if all {
		if len(scopes) == 0 {
			return nil, invalid("No scopes found to reprocess.")
		}
		return scopes, nil
	}

	known := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		known[scope.Identifier] = struct{}{}
	}
	var missing []string
	for _, id := range cleaned {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, invalid("Scopes %v scheduled to reprocess do not exist.", missing)
	}
	return scopes, nil
}

// checkAlignment rejects timestamps off the collection period grid and names
// the closest valid values on either side.
func (s *Service) checkAlignment(ts time.Time) error {
	period := int64(s.period / time.Second)
	if period <= 0 {
		return nil
	}
	unix := ts.Unix()
	rem := unix % period
	if rem < 0 {
		rem += period
	}
	if rem == 0 && ts.Nanosecond() == 0 {
		return nil
	}
	previous := time.Unix(unix-rem, 0).UTC()
	next := previous.Add(s.period)
	return invalid("Timestamp [%s] is not a valid period. Valid values are: [%s] or [%s].",
		formatTS(ts), formatTS(previous), formatTS(next))
}

func uniqueIdentifiers(scopes []scopedomain.Scope) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if _, ok := seen[scope.Identifier]; ok {
			continue
		}
		seen[scope.Identifier] = struct{}{}
		out = append(out, scope.Identifier)
	}
	sort.Strings(out)
	return out
}

func invalid(format string, args ...any) error {
	return &reprocessingdomain.ValidationError{Message: fmt.Sprintf(format, args...)}
}

func formatTS(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
