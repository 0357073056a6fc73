package store

import (
	"context"
	"errors"
	"time"

	"blafast-backend/models"

	"gorm.io/gorm"
)

// Gorm is the postgres-backed RequestStore. Transitions rely on conditional
// single-row UPDATEs; RowsAffected decides the CAS winner.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

var claimableStatuses = []models.DeferredStatus{models.StatusPending, models.StatusFailed}

func (g *Gorm) Create(ctx context.Context, r *models.DeferredRequest) error {
	return g.db.WithContext(ctx).Create(r).Error
}

func (g *Gorm) Get(ctx context.Context, id string) (*models.DeferredRequest, error) {
	var r models.DeferredRequest
	err := g.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (g *Gorm) ListByUser(ctx context.Context, organizationID, userID string, limit int) ([]models.DeferredRequest, error) {
	var out []models.DeferredRequest
	q := g.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

func (g *Gorm) CountByStatus(ctx context.Context, organizationID string) (map[models.DeferredStatus]int64, error) {
	type row struct {
		Status models.DeferredStatus
		N      int64
	}
	var rows []row
	err := g.db.WithContext(ctx).Model(&models.DeferredRequest{}).
		Select("status, COUNT(*) AS n").
		Where("organization_id = ?", organizationID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.DeferredStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func (g *Gorm) ClaimForProcessing(ctx context.Context, id string) (*models.DeferredRequest, bool, error) {
	now := time.Now().UTC()
	res := g.db.WithContext(ctx).Model(&models.DeferredRequest{}).
		Where("id = ? AND status IN ? AND attempts < max_attempts", id, claimableStatuses).
		Updates(map[string]any{
			"status":     models.StatusProcessing,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	r, err := g.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (g *Gorm) Complete(ctx context.Context, id string, result []byte, statusCode int) (bool, error) {
	now := time.Now().UTC()
	progress := 100
	res := g.db.WithContext(ctx).Model(&models.DeferredRequest{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"status":             models.StatusCompleted,
			"result":             result,
			"result_status_code": statusCode,
			"progress":           progress,
			"completed_at":       now,
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) Fail(ctx context.Context, id string, errorCode, errorMessage string) (bool, error) {
	now := time.Now().UTC()
	res := g.db.WithContext(ctx).Model(&models.DeferredRequest{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"status":        models.StatusFailed,
			"error_code":    errorCode,
			"error_message": errorMessage,
			"completed_at":  now,
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res := g.db.WithContext(ctx).Model(&models.DeferredRequest{}).
		Where("id = ? AND status IN ?", id, []models.DeferredStatus{models.StatusPending, models.StatusProcessing}).
		Updates(map[string]any{
			"status":       models.StatusCancelled,
			"completed_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) SetProgress(ctx context.Context, id string, progress int, message string) error {
	return g.db.WithContext(ctx).Model(&models.DeferredRequest{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"progress":         progress,
			"progress_message": message,
		}).Error
}

func (g *Gorm) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.DeferredRequest, error) {
	var out []models.DeferredRequest
	q := g.db.WithContext(ctx).
		Where("status = ? AND attempts = 0 AND created_at < ?", models.StatusPending, olderThan).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

func (g *Gorm) NonTerminalExpired(ctx context.Context, cutoff time.Time) ([]models.DeferredRequest, error) {
	var out []models.DeferredRequest
	err := g.db.WithContext(ctx).
		Where("expires_at < ? AND status IN ?", cutoff,
			[]models.DeferredStatus{models.StatusPending, models.StatusProcessing}).
		Find(&out).Error
	return out, err
}

func (g *Gorm) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := g.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.DeferredRequest{})
	return res.RowsAffected, res.Error
}

// ListActiveRules returns every active endpoint rule ordered for matching:
// creation order with id as the final tie-break. The rule cache layers
// org-before-global precedence on top.
func (g *Gorm) ListActiveRules(ctx context.Context) ([]models.EndpointRule, error) {
	var out []models.EndpointRule
	err := g.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
