package migration

import (
	"github.com/jijenga/referral/internal/config"
	"github.com/jijenga/referral/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.Bootstrap.EnsureDefaultAdmin {
			return seed.EnsureDefaultAdmin(conn, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		}
		return nil
	}),
)
