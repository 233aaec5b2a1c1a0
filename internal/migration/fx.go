package migration

import (
	"github.com/smallbiznis/cloudkitty/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Apply(conn, cfg.DBType); err != nil {
			return err
		}
		log.Info("migrations.applied", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
