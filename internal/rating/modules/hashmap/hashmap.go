// Package hashmap prices points from a table of per-metric rules matched on
// point labels.
package hashmap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const Name = "hashmap"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  ratingdomain.MappingRepository
	GenID *snowflake.Node
}

type Module struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  ratingdomain.MappingRepository
	genID *snowflake.Node

	mu    sync.RWMutex
	rules map[string][]ratingdomain.Mapping
}

func New(p Params) *Module {
	return &Module{
		db:    p.DB,
		log:   p.Log.Named("rating.hashmap"),
		repo:  p.Repo,
		genID: p.GenID,
		rules: map[string][]ratingdomain.Mapping{},
	}
}

func (*Module) Info() ratingdomain.ModuleInfo {
	return ratingdomain.ModuleInfo{
		Name:        Name,
		Description: "Prices points from flat and rate mappings.",
		HotConfig:   true,
	}
}

// ReloadConfig swaps in the current mapping table.
func (m *Module) ReloadConfig(ctx context.Context) error {
	mappings, err := m.repo.List(ctx, m.db)
	if err != nil {
		return err
	}
	rules := make(map[string][]ratingdomain.Mapping)
	for _, mapping := range mappings {
		rules[mapping.MetricType] = append(rules[mapping.MetricType], mapping)
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()

	m.log.Info("rating.hashmap.reloaded", zap.Int("mappings", len(mappings)))
	return nil
}

// Process adds qty * flat * rate to each matched point, where flat is the
// highest matching flat cost and rate the product of matching rates.
// Points matching no rule keep their price.
func (m *Module) Process(_ context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	m.mu.RLock()
	rules := m.rules
	m.mu.RUnlock()

	for _, metricType := range frame.Types() {
		typeRules := rules[metricType]
		if len(typeRules) == 0 {
			continue
		}
		points := frame.Points(metricType)
		priced := make([]dataframe.DataPoint, len(points))
		for i, point := range points {
			priced[i] = apply(point, typeRules)
		}
		frame.SetPoints(metricType, priced)
	}
	return frame, nil
}

func apply(point dataframe.DataPoint, rules []ratingdomain.Mapping) dataframe.DataPoint {
	desc := point.Desc()
	flat := decimal.Zero
	rate := decimal.NewFromInt(1)
	matched := false

	for _, rule := range rules {
		if rule.Field != "" && desc[rule.Field] != rule.Value {
			continue
		}
		matched = true
		switch rule.MapType {
		case ratingdomain.MapTypeFlat:
			if rule.Cost.GreaterThan(flat) {
				flat = rule.Cost
			}
		case ratingdomain.MapTypeRate:
			rate = rate.Mul(rule.Cost)
		}
	}
	if !matched {
		return point
	}
	return point.AddPrice(point.Qty.Mul(flat).Mul(rate))
}

// AddMapping validates and stores a rule. Running chains pick it up on the
// next reload notification.
func (m *Module) AddMapping(ctx context.Context, mapping ratingdomain.Mapping) (*ratingdomain.Mapping, error) {
	mapping.MetricType = strings.TrimSpace(mapping.MetricType)
	mapping.Field = strings.TrimSpace(mapping.Field)
	switch {
	case mapping.MetricType == "":
		return nil, fmt.Errorf("%w: metric type is required", ratingdomain.ErrInvalidMapping)
	case !mapping.MapType.Valid():
		return nil, fmt.Errorf("%w: unknown map type %q", ratingdomain.ErrInvalidMapping, mapping.MapType)
	case mapping.Cost.IsNegative():
		return nil, fmt.Errorf("%w: cost must not be negative", ratingdomain.ErrInvalidMapping)
	case mapping.Field == "" && mapping.Value != "":
		return nil, fmt.Errorf("%w: value requires a field", ratingdomain.ErrInvalidMapping)
	}

	mapping.ID = m.genID.Generate()
	mapping.CreatedAt = time.Now().UTC()
	if err := m.repo.Insert(ctx, m.db, &mapping); err != nil {
		return nil, err
	}
	return &mapping, nil
}
