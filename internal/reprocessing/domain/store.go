package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/cloudkitty/pkg/db/pagination"
	"gorm.io/gorm"
)

var ErrInvalidSchedule = errors.New("invalid_reprocessing_schedule")

// ValidationError carries the operator-facing reason a schedule was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidSchedule }

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

type ListFilter struct {
	Identifiers []string
	// IncludeFinished keeps schedules whose window is fully reprocessed.
	IncludeFinished bool
	Order           string
	pagination.Page
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, schedule *Schedule) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Schedule, error)
	FindActive(ctx context.Context, db *gorm.DB, identifier string, start, end time.Time) (*Schedule, error)
	UpdateCurrent(ctx context.Context, db *gorm.DB, id int64, current time.Time) error
}

type Store interface {
	Persist(ctx context.Context, schedule *Schedule) error
	GetAll(ctx context.Context, filter ListFilter) ([]Schedule, error)
	GetFromDB(ctx context.Context, identifier string, start, end time.Time) (*Schedule, error)
	UpdateReprocessingTime(ctx context.Context, identifier string, start, end, current time.Time) error
}

// AllScopes targets every known scope in a ScheduleRequest.
const AllScopes = "ALL"

type ScheduleRequest struct {
	ScopeIDs []string
	Start    time.Time
	End      time.Time
	Reason   string
}

// Service validates and records reprocessing requests.
type Service interface {
	Schedule(ctx context.Context, req ScheduleRequest) ([]Schedule, error)
	List(ctx context.Context, filter ListFilter) ([]Schedule, error)
}
