package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema
// creation. Each migration must be idempotent. Append new ones at the end.
var migrations = []string{
	// Migration 1: index offer expiry for the derived-expiry scans.
	`CREATE INDEX IF NOT EXISTS idx_offers_expires ON offers(expires_at)`,
}

// Migrate ensures the schema and applies all migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
