package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/db"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/pressly/goose/v3"
)

// MaybeRunDev applies pending archive migrations at boot when
// TXNFLOW_DB_AUTO_MIGRATE is set and the process runs in dev or against the
// embedded sqlite driver. Production schemas move through cmd/migrate only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoRunAllowed(cfg) {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	return autoRun(ctx, sqlDB, DialectFor(cfg.DB.Driver), DefaultDir, logg)
}

func autoRunAllowed(cfg *config.Config) bool {
	if cfg == nil || !cfg.DB.AutoMigrate {
		return false
	}
	return cfg.App.IsDev() || cfg.DB.IsSQLite()
}

func autoRun(ctx context.Context, sqlDB *sql.DB, dialect goose.Dialect, dir string, logg *logger.Logger) error {
	if logg == nil {
		logg = logger.Nop()
	}
	if err := ValidateDir(dir); err != nil {
		return err
	}
	m, err := NewMigrator(sqlDB, dialect, dir)
	if err != nil {
		return err
	}
	before, err := m.Version(ctx)
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{"dir": dir, "dialect": string(dialect), "from_version": before})
	logg.Info(ctx, "applying archive migrations")

	results, err := m.Up(ctx)
	if err != nil {
		return err
	}
	after, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"to_version": after, "applied": len(results)}), "archive migrations applied")
	return nil
}
