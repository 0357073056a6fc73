package deferral

import (
	"testing"

	"blafast-backend/models"
	"blafast-backend/orgctx"
)

func TestDecide(t *testing.T) {
	const org = "org-1"
	octx := orgctx.NewScoped(org, "user-1")

	optIn := models.EndpointRule{
		OrganizationId: org, HttpMethod: "POST",
		EndpointPattern: "api/v1/reports/*", IsActive: true,
	}
	forced := models.EndpointRule{
		OrganizationId: org, HttpMethod: "DELETE",
		EndpointPattern: "api/v1/orders/*", IsActive: true, ForceDeferred: true,
	}

	tests := []struct {
		name      string
		req       Request
		octx      orgctx.Context
		wantDefer bool
	}{
		{
			name:      "opt-in header defers matching request",
			req:       Request{Method: "POST", Path: "/api/v1/reports/generate", HasDeferHeader: true},
			octx:      octx,
			wantDefer: true,
		},
		{
			name:      "no opt-in header, not forced, not deferred",
			req:       Request{Method: "POST", Path: "/api/v1/reports/generate"},
			octx:      octx,
			wantDefer: false,
		},
		{
			name:      "forced rule defers without opt-in",
			req:       Request{Method: "DELETE", Path: "/api/v1/orders/15"},
			octx:      octx,
			wantDefer: true,
		},
		{
			name:      "replay sentinel is never re-deferred",
			req:       Request{Method: "DELETE", Path: "/api/v1/orders/15", HasDeferHeader: true, IsReplay: true},
			octx:      octx,
			wantDefer: false,
		},
		{
			name:      "unauthenticated request is never deferred",
			req:       Request{Method: "DELETE", Path: "/api/v1/orders/15", HasDeferHeader: true},
			octx:      orgctx.Context{},
			wantDefer: false,
		},
		{
			name:      "no matching rule",
			req:       Request{Method: "POST", Path: "/api/v1/customers", HasDeferHeader: true},
			octx:      octx,
			wantDefer: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCache(t, optIn, forced)
			got := c.Decide(tt.req, tt.octx)
			if got.Defer != tt.wantDefer {
				t.Errorf("Decide() defer = %v, want %v", got.Defer, tt.wantDefer)
			}
			if got.Defer && got.Rule == nil {
				t.Error("deferred decision must carry its rule")
			}
		})
	}
}
