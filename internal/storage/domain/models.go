// Package domain describes rated usage persistence.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RatedDataPoint is one priced point of one period.
type RatedDataPoint struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	ScopeID   string            `gorm:"type:text;not null;index:ix_rated_scope_period,priority:1"`
	BeginAt   time.Time         `gorm:"not null;index:ix_rated_scope_period,priority:2;index"`
	EndAt     time.Time         `gorm:"not null"`
	Type      string            `gorm:"type:text;not null;index"`
	Unit      string            `gorm:"type:text;not null"`
	Qty       decimal.Decimal   `gorm:"type:numeric(30,8);not null"`
	Price     decimal.Decimal   `gorm:"type:numeric(30,8);not null"`
	GroupBy   datatypes.JSONMap `gorm:"column:groupby;not null"`
	Metadata  datatypes.JSONMap `gorm:"not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (RatedDataPoint) TableName() string { return "rated_data_points" }
