package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/logger"
)

// MaybeRunDev applies pending migrations at startup, but only in dev with
// PAYFLOW_AUTO_MIGRATE on. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	m, err := New(sqlDB, nil)
	if err != nil {
		return err
	}
	ran, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", ran), "schema up to date")
	return nil
}
