package controllers

import (
	"errors"

	"blafast-backend/middlewares"
	"blafast-backend/store"

	"github.com/gofiber/fiber/v2"
)

// DeferredController exposes the polling surface over deferred requests.
type DeferredController struct {
	Store store.RequestStore
}

// Poll returns the current state of a deferred request. Only the owning user
// or a superadmin may read it; the result field appears only once the record
// is Completed.
func (ct *DeferredController) Poll(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	superadmin, _ := c.Locals("superadmin").(bool)

	rec, err := ct.Store.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "deferred request not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "lookup failed")
	}
	if !superadmin && rec.UserId != octx.UserID {
		return fiber.NewError(fiber.StatusForbidden, "not your deferred request")
	}

	return c.JSON(rec.PollingView())
}

// List returns the caller's own deferred requests in the current organization.
func (ct *DeferredController) List(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	if octx.IsGlobal() {
		return fiber.NewError(fiber.StatusBadRequest, "select an organization to list deferred requests")
	}

	limit := c.QueryInt("limit", 50)
	recs, err := ct.Store.ListByUser(c.Context(), octx.OrganizationID, octx.UserID, limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "listing failed")
	}

	out := make([]any, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].PollingView())
	}
	return c.JSON(fiber.Map{"deferred_requests": out})
}

// Cancel moves a Pending/Processing record to Cancelled. An in-flight
// execution is abandoned; any result arriving later loses the status CAS and
// is discarded.
func (ct *DeferredController) Cancel(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	superadmin, _ := c.Locals("superadmin").(bool)

	rec, err := ct.Store.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "deferred request not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "lookup failed")
	}
	if !superadmin && rec.UserId != octx.UserID {
		return fiber.NewError(fiber.StatusForbidden, "not your deferred request")
	}

	won, err := ct.Store.Cancel(c.Context(), rec.Id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "cancel failed")
	}
	if !won {
		return fiber.NewError(fiber.StatusConflict, "deferred request already finished")
	}

	rec, err = ct.Store.Get(c.Context(), rec.Id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(rec.PollingView())
}
