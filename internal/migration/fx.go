package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tvloop/billing/internal/config"
	"github.com/tvloop/billing/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}

		if cfg.Environment != "production" {
			return seed.EnsureCatalog(conn)
		}
		return nil
	}),
)
