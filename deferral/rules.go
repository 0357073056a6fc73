package deferral

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"blafast-backend/models"

	"github.com/rs/zerolog/log"
)

// RuleSource lists the active endpoint rules in creation order (created_at
// ascending, id ascending). Implemented by the gorm and memory stores.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]models.EndpointRule, error)
}

// RuleCache keeps the active rule set in memory so matching never hits the
// store on the request path. Refresh validates every pattern; a malformed
// persisted pattern is a configuration error and fails the whole refresh.
type RuleCache struct {
	src RuleSource

	mu       sync.RWMutex
	byMethod map[string][]models.EndpointRule
}

func NewRuleCache(src RuleSource) *RuleCache {
	return &RuleCache{src: src, byMethod: make(map[string][]models.EndpointRule)}
}

func (c *RuleCache) Refresh(ctx context.Context) error {
	rules, err := c.src.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("loading endpoint rules: %w", err)
	}

	byMethod := make(map[string][]models.EndpointRule)
	for _, r := range rules {
		if err := ValidatePattern(r.EndpointPattern); err != nil {
			return fmt.Errorf("endpoint rule %d: %w", r.Id, err)
		}
		method := strings.ToUpper(r.HttpMethod)
		byMethod[method] = append(byMethod[method], r)
	}

	c.mu.Lock()
	c.byMethod = byMethod
	c.mu.Unlock()
	return nil
}

// Start refreshes immediately, then keeps refreshing on a ticker until ctx is
// done. The initial load failing is fatal to the caller; later failures keep
// the previous rule set and log.
func (c *RuleCache) Start(ctx context.Context, interval time.Duration) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("endpoint rule refresh failed, keeping previous set")
				}
			}
		}
	}()
	return nil
}

// Invalidate reloads after a rule write through the API.
func (c *RuleCache) Invalidate(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("endpoint rule invalidation refresh failed")
	}
}

// Match returns the authoritative rule for the request, or nil. Precedence:
// organization-specific rules first, then global rules, each scope in
// creation order; first pattern match wins.
func (c *RuleCache) Match(organizationID, method, path string) *models.EndpointRule {
	c.mu.RLock()
	rules := c.byMethod[strings.ToUpper(method)]
	c.mu.RUnlock()

	for _, r := range rules {
		if r.OrganizationId == organizationID && organizationID != "" && MatchPattern(r.EndpointPattern, path) {
			rule := r
			return &rule
		}
	}
	for _, r := range rules {
		if r.Global() && MatchPattern(r.EndpointPattern, path) {
			rule := r
			return &rule
		}
	}
	return nil
}
