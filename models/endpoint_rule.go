package models

import (
	"time"

	"gorm.io/gorm"
)

// EndpointRule maps an HTTP method + path pattern onto deferral behavior.
// A rule with an empty OrganizationId applies globally across all tenants;
// org-specific rules take precedence over global ones.
type EndpointRule struct {
	Id uint `json:"id" gorm:"primaryKey"`

	// Empty string = global rule. Stored as '' rather than NULL so the
	// composite index stays usable for both scopes.
	OrganizationId string `json:"organization_id" gorm:"size:36;not null;default:'';index:idx_endpoint_rules_org_active,priority:1"`

	HttpMethod      string `json:"http_method" gorm:"size:10;not null" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	EndpointPattern string `json:"endpoint_pattern" gorm:"size:255;not null" validate:"required"`
	IsActive        bool   `json:"is_active" gorm:"not null;default:true;index:idx_endpoint_rules_org_active,priority:2"`

	// ForceDeferred defers matching requests even without the client
	// opt-in header.
	ForceDeferred bool `json:"force_deferred" gorm:"not null;default:false"`

	Priority         Priority `json:"priority" gorm:"type:VARCHAR(10);not null;default:'default'" validate:"omitempty,oneof=low default high"`
	TimeoutSeconds   int      `json:"timeout_seconds" gorm:"not null;default:0" validate:"gte=0,lte=3600"`
	ResultTtlSeconds int      `json:"result_ttl_seconds" gorm:"not null;default:0" validate:"gte=0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *EndpointRule) BeforeSave(tx *gorm.DB) (err error) {
	if r.Priority == "" {
		r.Priority = PriorityDefault
	}
	return
}

// Global reports whether the rule applies across all organizations.
func (r *EndpointRule) Global() bool { return r.OrganizationId == "" }
