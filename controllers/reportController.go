package controllers

import (
	"time"

	"blafast-backend/middlewares"
	"blafast-backend/models"
	"blafast-backend/store"

	"github.com/gofiber/fiber/v2"
)

// ReportController generates org-scoped activity summaries. Report
// generation is the canonical deferrable endpoint: slow enough to be worth
// pushing to the background, safe to replay.
type ReportController struct {
	Store store.RequestStore
}

func (ct *ReportController) Generate(c *fiber.Ctx) error {
	octx, ok := middlewares.OrgContextFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	if octx.IsGlobal() {
		return fiber.NewError(fiber.StatusBadRequest, "select an organization to generate a report")
	}

	counts, err := ct.Store.CountByStatus(c.Context(), octx.OrganizationID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "report query failed")
	}

	var total int64
	byStatus := make(map[string]int64, len(counts))
	for _, s := range []models.DeferredStatus{
		models.StatusPending, models.StatusProcessing,
		models.StatusCompleted, models.StatusFailed, models.StatusCancelled,
	} {
		byStatus[string(s)] = counts[s]
		total += counts[s]
	}

	return c.JSON(fiber.Map{
		"organization_id":   octx.OrganizationID,
		"generated_at":      time.Now().UTC(),
		"deferred_requests": byStatus,
		"total":             total,
	})
}
