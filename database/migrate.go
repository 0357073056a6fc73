package database

import (
	"fmt"

	"blafast-backend/models"

	"gorm.io/gorm"
)

// AutoMigrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns)
// - Scan indexes the engine depends on:
//   endpoint_rules (organization_id, is_active) for rule loading,
//   deferred_requests (status, expires_at) for reconciliation and cleanup.
func AutoMigrate() error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.User{},
			&models.Organization{},
			&models.Membership{},
			&models.EndpointRule{},
			&models.DeferredRequest{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		// gorm composite index tags cover these, but older deployments
		// predate the tags; keep the explicit DDL idempotent.
		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_endpoint_rules_org_active ON endpoint_rules (organization_id, is_active)`,
			`CREATE INDEX IF NOT EXISTS idx_deferred_requests_status_expires ON deferred_requests (status, expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_deferred_requests_user ON deferred_requests (user_id)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}
		return nil
	})
}
