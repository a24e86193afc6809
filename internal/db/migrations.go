package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Statements must stay valid for both postgres and sqlite.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS regions (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		geometry TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_regions_name ON regions (name);`,
	`CREATE INDEX IF NOT EXISTS idx_regions_updated_at ON regions (updated_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
