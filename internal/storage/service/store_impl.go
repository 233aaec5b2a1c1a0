package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/clock"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	storagedomain "github.com/smallbiznis/cloudkitty/internal/storage/domain"
	"github.com/smallbiznis/cloudkitty/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   storagedomain.Repository
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
}

type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     storagedomain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	scopeKey string
}

func New(p Params) storagedomain.Storage {
	return &Store{
		db:       p.DB,
		log:      p.Log.Named("storage.sql"),
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		scopeKey: p.Config.Collect.ScopeKey,
	}
}

// Push writes every point of every frame in one transaction.
func (s *Store) Push(ctx context.Context, frames []*dataframe.DataFrame, scopeID string) error {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return fmt.Errorf("%w: scope id is required", storagedomain.ErrInvalidFilter)
	}
	now := s.clock.Now().UTC()

	var rows []storagedomain.RatedDataPoint
	for _, frame := range frames {
		if frame == nil {
			continue
		}
		frame.IterPoints(func(metricType string, point dataframe.DataPoint) bool {
			rows = append(rows, storagedomain.RatedDataPoint{
				ID:        s.genID.Generate(),
				ScopeID:   scopeID,
				BeginAt:   frame.Start.UTC(),
				EndAt:     frame.End.UTC(),
				Type:      metricType,
				Unit:      point.Unit,
				Qty:       point.Qty,
				Price:     point.Price,
				GroupBy:   toJSONMap(point.GroupBy),
				Metadata:  toJSONMap(point.Metadata),
				CreatedAt: now,
			})
			return true
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, rows)
	})
	if err != nil {
		return err
	}
	s.log.Debug("storage.pushed", zap.String("scope_id", scopeID), zap.Int("points", len(rows)))
	return nil
}

// Delete removes points whose period starts in [begin, end). At least one
// bound or filter is required.
func (s *Store) Delete(ctx context.Context, begin, end *time.Time, filters map[string]string) error {
	if begin == nil && end == nil && len(filters) == 0 {
		return fmt.Errorf("%w: refusing unbounded delete", storagedomain.ErrInvalidFilter)
	}
	deleted, err := s.repo.Delete(ctx, s.db, storagedomain.Query{Begin: begin, End: end, Filters: filters}, s.scopeKey)
	if err != nil {
		return err
	}
	s.log.Debug("storage.deleted", zap.Int64("points", deleted), zap.Any("filters", filters))
	return nil
}

// Retrieve returns a page of points grouped into one frame per period.
func (s *Store) Retrieve(ctx context.Context, filter storagedomain.RetrieveFilter) (storagedomain.RetrieveResult, error) {
	total, err := s.repo.Count(ctx, s.db, filter.Query, s.scopeKey)
	if err != nil {
		return storagedomain.RetrieveResult{}, err
	}
	rows, err := s.repo.List(ctx, s.db, filter.Query, s.scopeKey, filter.Page)
	if err != nil {
		return storagedomain.RetrieveResult{}, err
	}

	var frames []*dataframe.DataFrame
	var current *dataframe.DataFrame
	for _, row := range rows {
		begin, end := row.BeginAt.In(time.Local), row.EndAt.In(time.Local)
		if current == nil || !current.Start.Equal(begin) || !current.End.Equal(end) {
			current = dataframe.New(begin, end)
			frames = append(frames, current)
		}
		point := dataframe.NewDataPoint(row.Unit, row.Qty, fromJSONMap(row.GroupBy), fromJSONMap(row.Metadata))
		current.AddPoint(row.Type, point.SetPrice(row.Price))
	}
	return storagedomain.RetrieveResult{Total: total, Frames: frames}, nil
}

// Total sums qty and price per period and requested group. Sums are decimal
// exact.
func (s *Store) Total(ctx context.Context, filter storagedomain.TotalFilter) ([]storagedomain.TotalRow, error) {
	rows, err := s.repo.List(ctx, s.db, filter.Query, s.scopeKey, pagination.Page{})
	if err != nil {
		return nil, err
	}

	type bucket struct {
		row   storagedomain.TotalRow
		order int
	}
	buckets := map[string]*bucket{}
	for _, r := range rows {
		groups := make(map[string]string, len(filter.GroupBy))
		for _, key := range filter.GroupBy {
			switch key {
			case storagedomain.GroupByType:
				groups[key] = r.Type
			case storagedomain.GroupByScope:
				groups[key] = r.ScopeID
			default:
				groups[key] = fmt.Sprint(r.GroupBy[key])
			}
		}
		begin, end := s.totalBounds(filter.Query, r)
		key := bucketKey(begin, end, groups, filter.GroupBy)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				row: storagedomain.TotalRow{
					Begin:  begin,
					End:    end,
					Groups: groups,
					Qty:    decimal.Zero,
					Price:  decimal.Zero,
				},
				order: len(buckets),
			}
			buckets[key] = b
		}
		b.row.Qty = b.row.Qty.Add(r.Qty)
		b.row.Price = b.row.Price.Add(r.Price)
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	out := make([]storagedomain.TotalRow, 0, len(ordered))
	for _, b := range ordered {
		out = append(out, b.row)
	}
	return out, nil
}

// totalBounds reports the requested window when bounded, else the row's period.
func (s *Store) totalBounds(q storagedomain.Query, r storagedomain.RatedDataPoint) (time.Time, time.Time) {
	begin, end := r.BeginAt, r.EndAt
	if q.Begin != nil {
		begin = *q.Begin
	}
	if q.End != nil {
		end = *q.End
	}
	return begin.In(time.Local), end.In(time.Local)
}

func bucketKey(begin, end time.Time, groups map[string]string, keys []string) string {
	var b strings.Builder
	b.WriteString(begin.UTC().Format(time.RFC3339))
	b.WriteByte('|')
	b.WriteString(end.UTC().Format(time.RFC3339))
	for _, key := range keys {
		b.WriteByte('|')
		b.WriteString(groups[key])
	}
	return b.String()
}

func toJSONMap(in map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func fromJSONMap(in datatypes.JSONMap) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}
