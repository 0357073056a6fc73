package middlewares

import (
	"strings"

	"blafast-backend/deferral"

	"github.com/gofiber/fiber/v2"
)

// Deferral intercepts requests matched by an endpoint rule and converts them
// into deferred background executions, answering 202 with a polling handle.
// Order: run AFTER OrganizationContext() so the org context is resolved.
func Deferral(rules *deferral.RuleCache, dispatcher *deferral.Dispatcher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := deferral.Request{
			Method:         c.Method(),
			Path:           c.Path(),
			HasDeferHeader: strings.EqualFold(c.Get(deferral.HeaderDefer), "true"),
			IsReplay:       strings.EqualFold(c.Get(deferral.HeaderDeferredExecution), "true"),
		}

		octx, ok := OrgContextFrom(c)
		if !ok {
			return c.Next()
		}

		decision := rules.Decide(req, octx)
		if !decision.Defer {
			return c.Next()
		}

		headers := make(map[string]string)
		for k, vals := range c.GetReqHeaders() {
			if len(vals) > 0 {
				headers[k] = vals[0]
			}
		}
		// fasthttp reuses the body buffer once the handler returns.
		body := make([]byte, len(c.Body()))
		copy(body, c.Body())

		rec, err := dispatcher.Submit(c.Context(), deferral.Inbound{
			Method:  c.Method(),
			Path:    c.Path(),
			Query:   c.Queries(),
			Headers: headers,
			Body:    body,
		}, decision.Rule, octx)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not defer request")
		}

		c.Status(fiber.StatusAccepted)
		return c.JSON(fiber.Map{
			"id":          rec.Id,
			"status":      rec.Status,
			"endpoint":    rec.Endpoint,
			"http_method": rec.HttpMethod,
			"created_at":  rec.CreatedAt,
			"expires_at":  rec.ExpiresAt,
			"links": fiber.Map{
				"self": "/api/deferred-requests/" + rec.Id,
			},
		})
	}
}
