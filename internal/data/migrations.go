package data

import (
	"context"
	"database/sql"

	"github.com/astracore/astracore/internal/migrate"
)

// RunMigrations creates or upgrades the user_profiles schema by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// PendingMigrations lists schema versions that RunMigrations would apply.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
