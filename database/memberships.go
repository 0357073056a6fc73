package database

import (
	"context"

	"blafast-backend/models"
)

// Memberships answers membership checks for tenant selection.
type Memberships struct{}

func (Memberships) IsMember(ctx context.Context, organizationID, userID string) (bool, error) {
	var n int64
	err := DB.WithContext(ctx).Model(&models.Membership{}).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Count(&n).Error
	return n > 0, err
}
