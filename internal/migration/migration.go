package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	storagedomain "github.com/smallbiznis/cloudkitty/internal/storage/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the processor.
func Models() []any {
	return []any{
		&scopedomain.Scope{},
		&reprocessingdomain.Schedule{},
		&ratingdomain.ModuleState{},
		&ratingdomain.Mapping{},
		&storagedomain.RatedDataPoint{},
	}
}

// Apply creates or upgrades the schema. Postgres runs the versioned SQL
// migrations; the other dialects fall back to AutoMigrate.
func Apply(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
