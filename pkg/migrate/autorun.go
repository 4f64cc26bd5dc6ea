package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/escrowhub-backend/pkg/config"
	"github.com/angelmondragon/escrowhub-backend/pkg/db"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on startup in dev when the
// auto-migrate flag is set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := NewRunner(sqlDB, Embedded())
	if err != nil {
		return err
	}

	results, err := runner.Run(ctx, "up")
	if err != nil {
		return err
	}
	if logg != nil {
		applied := make([]int64, 0, len(results))
		for _, res := range results {
			if res != nil && res.Source != nil {
				applied = append(applied, res.Source.Version)
			}
		}
		logg.Info(logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "applied": applied}), "dev migrations applied")
	}
	return nil
}
