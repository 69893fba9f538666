package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

func (db *DB) migrationProvider() (*goose.Provider, error) {
	sub, err := fs.Sub(migrationsFS, "migrations/"+db.Dialect.MigrationsSubdir())
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations for %s: %w", db.Dialect.Name(), err)
	}
	return goose.NewProvider(db.Dialect.GooseDialect(), db.DB, sub)
}

// RunMigrations applies every pending migration for the connection's dialect
func (db *DB) RunMigrations(ctx context.Context, logger *slog.Logger) error {
	provider, err := db.migrationProvider()
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		if logger != nil {
			logger.Info("migration applied",
				"version", r.Source.Version,
				"path", r.Source.Path,
				"duration", r.Duration)
		}
	}
	return nil
}

// MigrationVersion reports the highest applied migration version
func (db *DB) MigrationVersion(ctx context.Context) (int64, error) {
	provider, err := db.migrationProvider()
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}
