package middlewares

import (
	"context"
	"strings"

	"blafast-backend/deferral"
	"blafast-backend/orgctx"

	"github.com/gofiber/fiber/v2"
)

// MembershipChecker answers whether a user belongs to an organization.
type MembershipChecker interface {
	IsMember(ctx context.Context, organizationID, userID string) (bool, error)
}

// MembershipCheckerFunc adapts a function to the interface (handy in tests).
type MembershipCheckerFunc func(ctx context.Context, organizationID, userID string) (bool, error)

func (f MembershipCheckerFunc) IsMember(ctx context.Context, organizationID, userID string) (bool, error) {
	return f(ctx, organizationID, userID)
}

// OrganizationContext resolves the X-Organization-Id header against
// memberships into an orgctx.Context value stored in request locals. The
// context is an explicit value, never process-global state; background tasks
// rebuild their own from the persisted record.
// Order: run AFTER IsAuthenticatedHeader() (so userID/superadmin are present).
func OrganizationContext(members MembershipChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(string)
		if userID == "" {
			// Public endpoints; deferral and org-scoped handlers bail out on
			// the missing context themselves.
			return c.Next()
		}
		superadmin, _ := c.Locals("superadmin").(bool)

		orgID := strings.TrimSpace(c.Get(deferral.HeaderOrganization))
		if orgID == "" {
			if !superadmin {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"message": "missing " + deferral.HeaderOrganization + " header",
				})
			}
			// Superadmins without a tenant selection run in global mode.
			c.Locals("orgctx", orgctx.NewGlobal(userID))
			return c.Next()
		}

		if !superadmin {
			ok, err := members.IsMember(c.Context(), orgID, userID)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "membership lookup failed")
			}
			if !ok {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"message": "not a member of this organization",
				})
			}
		}

		c.Locals("orgctx", orgctx.NewScoped(orgID, userID))
		return c.Next()
	}
}

// OrgContextFrom extracts the resolved organization context, if any.
func OrgContextFrom(c *fiber.Ctx) (orgctx.Context, bool) {
	octx, ok := c.Locals("orgctx").(orgctx.Context)
	return octx, ok
}
