package migration

import (
	"github.com/renderbank/renderbank/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// Embedded migrations target postgres. Other dialects fall back to
		// GORM auto-migration at startup.
		if cfg.DBType != "postgres" {
			log.Named("migrations").Info("skipping embedded migrations", zap.String("db_type", cfg.DBType))
			return autoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
