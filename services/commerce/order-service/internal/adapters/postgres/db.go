package postgres

import (
	"context"
	"embed"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations creates the shared outbox and replica tables, then the order tables.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if err := outbox.Migrate(ctx, db); err != nil {
		return err
	}
	if err := replica.Migrate(ctx, db); err != nil {
		return err
	}
	return platformpg.RunMigrations(ctx, db, migrationFS, "migrations")
}
