package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

// Schema creates the tables used by CatalogStore and RunStore.
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
