package deferral

import (
	"blafast-backend/models"
	"blafast-backend/orgctx"
)

// Request is the inbound descriptor the decision runs on.
type Request struct {
	Method string
	Path   string
	// HasDeferHeader is the X-Blafast-Defer client opt-in.
	HasDeferHeader bool
	// IsReplay marks the worker's internal re-execution (sentinel header);
	// replays are never deferred again.
	IsReplay bool
}

type Decision struct {
	Defer bool
	Rule  *models.EndpointRule
}

// Decide applies the deferral ladder: replay sentinel, authentication,
// rule match, forced deferral, client opt-in.
func (c *RuleCache) Decide(req Request, octx orgctx.Context) Decision {
	if req.IsReplay {
		return Decision{}
	}
	if !octx.Authenticated() {
		return Decision{}
	}

	rule := c.Match(octx.OrganizationID, req.Method, req.Path)
	if rule == nil {
		return Decision{}
	}
	if rule.ForceDeferred {
		return Decision{Defer: true, Rule: rule}
	}
	return Decision{Defer: req.HasDeferHeader, Rule: rule}
}
