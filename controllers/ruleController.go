package controllers

import (
	"errors"

	"blafast-backend/deferral"
	"blafast-backend/middlewares"
	"blafast-backend/models"
	"blafast-backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// RuleController manages the endpoint rules driving deferral decisions.
// Org-scoped rules belong to the caller's organization; global rules (empty
// organization id) are superadmin-only.
type RuleController struct {
	DB    *gorm.DB
	Rules *deferral.RuleCache
}

type createRuleDTO struct {
	HttpMethod       string `json:"http_method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	EndpointPattern  string `json:"endpoint_pattern" validate:"required"`
	ForceDeferred    bool   `json:"force_deferred"`
	Priority         string `json:"priority" validate:"omitempty,oneof=low default high"`
	TimeoutSeconds   int    `json:"timeout_seconds" validate:"gte=0,lte=3600"`
	ResultTtlSeconds int    `json:"result_ttl_seconds" validate:"gte=0"`
	Global           bool   `json:"global"`
}

func (ct *RuleController) Create(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	superadmin, _ := c.Locals("superadmin").(bool)

	var dto createRuleDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	// Malformed patterns are rejected here, at write time, never at
	// request-matching time.
	if err := deferral.ValidatePattern(dto.EndpointPattern); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	orgID := octx.OrganizationID
	if dto.Global || octx.IsGlobal() {
		if !superadmin {
			return fiber.NewError(fiber.StatusForbidden, "global rules require superadmin")
		}
		orgID = ""
	}

	rule := models.EndpointRule{
		OrganizationId:   orgID,
		HttpMethod:       dto.HttpMethod,
		EndpointPattern:  dto.EndpointPattern,
		IsActive:         true,
		ForceDeferred:    dto.ForceDeferred,
		Priority:         models.ParsePriority(dto.Priority),
		TimeoutSeconds:   dto.TimeoutSeconds,
		ResultTtlSeconds: dto.ResultTtlSeconds,
	}
	if err := ct.DB.WithContext(c.Context()).Create(&rule).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not create rule")
	}

	ct.Rules.Invalidate(c.Context())
	c.Status(fiber.StatusCreated)
	return c.JSON(rule)
}

func (ct *RuleController) List(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	q := ct.DB.WithContext(c.Context()).Order("created_at ASC, id ASC")
	if octx.IsGlobal() {
		// superadmin without tenant selection sees everything
	} else {
		q = q.Where("organization_id = ? OR organization_id = ''", octx.OrganizationID)
	}

	var rules []models.EndpointRule
	if err := q.Find(&rules).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not list rules")
	}
	return c.JSON(fiber.Map{"endpoint_rules": rules})
}

type updateRuleDTO struct {
	EndpointPattern  *string `json:"endpoint_pattern"`
	IsActive         *bool   `json:"is_active"`
	ForceDeferred    *bool   `json:"force_deferred"`
	Priority         *string `json:"priority" validate:"omitempty,oneof=low default high"`
	TimeoutSeconds   *int    `json:"timeout_seconds" validate:"omitempty,gte=0,lte=3600"`
	ResultTtlSeconds *int    `json:"result_ttl_seconds" validate:"omitempty,gte=0"`
}

func (ct *RuleController) Update(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	superadmin, _ := c.Locals("superadmin").(bool)

	var rule models.EndpointRule
	err := ct.DB.WithContext(c.Context()).First(&rule, "id = ?", c.Params("id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "rule not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "lookup failed")
	}
	if rule.Global() && !superadmin {
		return fiber.NewError(fiber.StatusForbidden, "global rules require superadmin")
	}
	if !rule.Global() && !superadmin && rule.OrganizationId != octx.OrganizationID {
		return fiber.NewError(fiber.StatusForbidden, "rule belongs to another organization")
	}

	var dto updateRuleDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	if dto.EndpointPattern != nil {
		if err := deferral.ValidatePattern(*dto.EndpointPattern); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
	}

	updates := utils.UpdatesFromPtrDTO(&dto, nil)
	if len(updates) == 0 {
		return c.JSON(rule)
	}
	if err := ct.DB.WithContext(c.Context()).Model(&rule).Updates(updates).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not update rule")
	}

	ct.Rules.Invalidate(c.Context())
	return c.JSON(rule)
}
