// Package orgctx defines the organization context a request or background
// task executes under. It is a plain value passed by parameter; there is no
// ambient/global context, so nothing can leak between pooled executions.
package orgctx

type Mode int

const (
	// Scoped filters all queries by the organization id.
	Scoped Mode = iota
	// Global bypasses organization filtering entirely (superadmin only).
	Global
)

type Context struct {
	OrganizationID string
	UserID         string
	Mode           Mode
}

// NewScoped builds a tenant-scoped context for a user acting inside one
// organization.
func NewScoped(organizationID, userID string) Context {
	return Context{OrganizationID: organizationID, UserID: userID, Mode: Scoped}
}

// NewGlobal builds a superadmin context that sees across all tenants.
func NewGlobal(userID string) Context {
	return Context{UserID: userID, Mode: Global}
}

func (c Context) IsGlobal() bool { return c.Mode == Global }

// Authenticated reports whether the context carries an acting user at all.
// Deferral decisions bail out early for anonymous requests.
func (c Context) Authenticated() bool { return c.UserID != "" }
