package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"gorm.io/gorm"
)

// Topic carries module state notifications to every running process.
const Topic = "rating"

const (
	OpEnableModule  = "enable_module"
	OpDisableModule = "disable_module"
	OpReloadModule  = "reload_module"
	OpReloadModules = "reload_modules"
)

var (
	ErrModuleNotFound  = errors.New("rating_module_not_found")
	ErrDuplicateModule = errors.New("rating_module_duplicate")
	ErrInvalidPriority = errors.New("rating_module_invalid_priority")
	ErrInvalidMapping  = errors.New("rating_mapping_invalid")
)

// ModuleInfo describes a module. Enabled and Priority are only meaningful
// when read through the chain manager, which fills them from ModuleState.
type ModuleInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	HotConfig   bool   `json:"hot_config"`
}

// Module prices a frame. Process may update prices in place; a later module
// sees the prices left by earlier ones.
type Module interface {
	Info() ModuleInfo
	Process(ctx context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error)
	ReloadConfig(ctx context.Context) error
}

type StateRepository interface {
	List(ctx context.Context, db *gorm.DB) ([]ModuleState, error)
	Get(ctx context.Context, db *gorm.DB, name string) (*ModuleState, error)
	SetState(ctx context.Context, db *gorm.DB, name string, enabled bool) error
	SetPriority(ctx context.Context, db *gorm.DB, name string, priority int) error
}

type MappingRepository interface {
	List(ctx context.Context, db *gorm.DB) ([]Mapping, error)
	Insert(ctx context.Context, db *gorm.DB, mapping *Mapping) error
	Delete(ctx context.Context, db *gorm.DB, id int64) error
}
