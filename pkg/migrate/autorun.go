package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type gormHandle interface {
	DB() *gorm.DB
}

// MaybeRunDev brings the schema up to date at boot, but only for dev with
// STOREFRONT_AUTO_MIGRATE set. Elsewhere it only warns when the embedded
// migrations are ahead of the database; cmd/migrate owns applying them.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client gormHandle) error {
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := NewRunner(sqlDB, "", logg)
	if err != nil {
		return err
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "source": "embedded"})

	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		pending, err := runner.Pending(ctx)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "could not check migration state")
			return nil
		}
		if pending {
			logg.Warn(ctx, "database schema is behind; run cmd/migrate up")
		}
		return nil
	}

	logg.Info(ctx, "applying migrations at boot")
	if err := runner.Exec(ctx, "up"); err != nil {
		return err
	}
	logg.Info(ctx, "migrations up to date")
	return nil
}
