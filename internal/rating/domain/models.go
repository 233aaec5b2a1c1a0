// Package domain defines rating modules and their persisted state.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// DefaultPriority applies to modules that have no state row yet.
const DefaultPriority = 1

// ModuleState is the runtime switchboard of a module, shared by every process.
type ModuleState struct {
	Name      string    `gorm:"primaryKey;type:text"`
	Enabled   bool      `gorm:"not null;default:false"`
	Priority  int       `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ModuleState) TableName() string { return "rating_modules" }

type MapType string

const (
	MapTypeFlat MapType = "flat"
	MapTypeRate MapType = "rate"
)

func (t MapType) Valid() bool {
	return t == MapTypeFlat || t == MapTypeRate
}

// Mapping is one hashmap pricing rule. An empty Field matches every point of
// the metric type; otherwise the point's Field label must equal Value.
type Mapping struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	MetricType string          `gorm:"type:text;not null;index"`
	Field      string          `gorm:"type:text;not null;default:''"`
	Value      string          `gorm:"type:text;not null;default:''"`
	MapType    MapType         `gorm:"type:text;not null"`
	Cost       decimal.Decimal `gorm:"type:numeric(30,8);not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

func (Mapping) TableName() string { return "hashmap_mappings" }
