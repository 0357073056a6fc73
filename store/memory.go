package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"blafast-backend/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Memory is a mutex-guarded in-memory RequestStore mirroring the CAS
// semantics of the postgres implementation. Used by tests and local runs
// without a database.
type Memory struct {
	mu       sync.RWMutex
	requests map[string]*models.DeferredRequest
	rules    []models.EndpointRule
	nextRule uint
}

func NewMemory() *Memory {
	return &Memory{requests: make(map[string]*models.DeferredRequest), nextRule: 1}
}

func clone(r *models.DeferredRequest) *models.DeferredRequest {
	cp := *r
	return &cp
}

func (m *Memory) Create(ctx context.Context, r *models.DeferredRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Id == "" {
		r.Id = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	m.requests[r.Id] = clone(r)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*models.DeferredRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *Memory) ListByUser(ctx context.Context, organizationID, userID string, limit int) ([]models.DeferredRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeferredRequest
	for _, r := range m.requests {
		if r.OrganizationId == organizationID && r.UserId == userID {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByStatus(ctx context.Context, organizationID string) (map[models.DeferredStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.DeferredStatus]int64)
	for _, r := range m.requests {
		if r.OrganizationId == organizationID {
			out[r.Status]++
		}
	}
	return out, nil
}

func (m *Memory) ClaimForProcessing(ctx context.Context, id string) (*models.DeferredRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, false, nil
	}
	claimable := r.Status == models.StatusPending || r.Status == models.StatusFailed
	if !claimable || r.Attempts >= r.MaxAttempts {
		return nil, false, nil
	}
	now := time.Now().UTC()
	r.Status = models.StatusProcessing
	r.StartedAt = &now
	r.Attempts++
	r.UpdatedAt = now
	return clone(r), true, nil
}

func (m *Memory) Complete(ctx context.Context, id string, result []byte, statusCode int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	progress := 100
	r.Status = models.StatusCompleted
	r.Result = datatypes.JSON(result)
	r.ResultStatusCode = &statusCode
	r.Progress = &progress
	r.CompletedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (m *Memory) Fail(ctx context.Context, id string, errorCode, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = models.StatusFailed
	r.ErrorCode = &errorCode
	r.ErrorMessage = &errorMessage
	r.CompletedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (m *Memory) Cancel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || (r.Status != models.StatusPending && r.Status != models.StatusProcessing) {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = models.StatusCancelled
	r.CompletedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (m *Memory) SetProgress(ctx context.Context, id string, progress int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusProcessing {
		return nil
	}
	r.Progress = &progress
	r.ProgressMessage = &message
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.DeferredRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeferredRequest
	for _, r := range m.requests {
		if r.Status == models.StatusPending && r.Attempts == 0 && r.CreatedAt.Before(olderThan) {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) NonTerminalExpired(ctx context.Context, cutoff time.Time) ([]models.DeferredRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeferredRequest
	for _, r := range m.requests {
		if r.ExpiresAt.Before(cutoff) && !r.Status.Terminal() {
			out = append(out, *clone(r))
		}
	}
	return out, nil
}

func (m *Memory) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.requests {
		if r.ExpiresAt.Before(cutoff) {
			delete(m.requests, id)
			n++
		}
	}
	return n, nil
}

// AddRule registers a rule for tests; mirrors the creation-order ids the
// database assigns.
func (m *Memory) AddRule(rule models.EndpointRule) models.EndpointRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.Id == 0 {
		rule.Id = m.nextRule
		m.nextRule++
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	m.rules = append(m.rules, rule)
	return rule
}

func (m *Memory) ListActiveRules(ctx context.Context) ([]models.EndpointRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EndpointRule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
