package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"github.com/smallbiznis/cloudkitty/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	GroupByType  = "type"
	GroupByScope = "scope_id"
)

var ErrInvalidFilter = errors.New("invalid_storage_filter")

// Query selects points whose period starts in [Begin, End). Filters match the
// scope column for the configured scope key and groupby labels otherwise.
type Query struct {
	Begin       *time.Time
	End         *time.Time
	Filters     map[string]string
	MetricTypes []string
}

type RetrieveFilter struct {
	Query
	pagination.Page
}

type RetrieveResult struct {
	Total  int64
	Frames []*dataframe.DataFrame
}

type TotalFilter struct {
	Query
	// GroupBy accepts GroupByType, GroupByScope or any groupby label.
	GroupBy []string
}

type TotalRow struct {
	Begin  time.Time
	End    time.Time
	Groups map[string]string
	Qty    decimal.Decimal
	Price  decimal.Decimal
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, points []RatedDataPoint) error
	Delete(ctx context.Context, db *gorm.DB, q Query, scopeKey string) (int64, error)
	List(ctx context.Context, db *gorm.DB, q Query, scopeKey string, page pagination.Page) ([]RatedDataPoint, error)
	Count(ctx context.Context, db *gorm.DB, q Query, scopeKey string) (int64, error)
}

// Storage persists rated frames. Push does not deduplicate: replacing a
// period means deleting it first.
type Storage interface {
	Push(ctx context.Context, frames []*dataframe.DataFrame, scopeID string) error
	Delete(ctx context.Context, begin, end *time.Time, filters map[string]string) error
	Retrieve(ctx context.Context, filter RetrieveFilter) (RetrieveResult, error)
	Total(ctx context.Context, filter TotalFilter) ([]TotalRow, error)
}
