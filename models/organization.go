package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Organization struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	OwnerId   string    `json:"owner_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (org *Organization) BeforeCreate(tx *gorm.DB) (err error) {
	if org.Id == "" {
		org.Id = uuid.NewString()
	}
	return
}

type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// Membership relates a user to an organization. Tenant selection on a request
// (the X-Organization-Id header) is validated against these rows.
type Membership struct {
	Id             uint           `json:"id" gorm:"primaryKey"`
	OrganizationId string         `json:"organization_id" gorm:"not null;index:idx_memberships_org_user,unique,priority:1"`
	UserId         string         `json:"user_id" gorm:"not null;index:idx_memberships_org_user,unique,priority:2"`
	Role           MembershipRole `json:"role" gorm:"type:VARCHAR(20);not null;default:'member'"`
	CreatedAt      time.Time      `json:"created_at"`
}
