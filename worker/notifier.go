package worker

import (
	"context"

	"blafast-backend/models"

	"github.com/rs/zerolog/log"
)

// FailureNotifier is told when a deferred request exhausts its attempts.
// Injected so alerting stays decoupled from execution.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, rec *models.DeferredRequest, errorCode, errorMessage string)
}

// LogNotifier is the default notifier; it only logs.
type LogNotifier struct{}

func (LogNotifier) NotifyFailure(ctx context.Context, rec *models.DeferredRequest, errorCode, errorMessage string) {
	log.Ctx(ctx).Error().
		Str("request_id", rec.Id).
		Str("organization_id", rec.OrganizationId).
		Str("user_id", rec.UserId).
		Str("endpoint", rec.Endpoint).
		Str("error_code", errorCode).
		Int("attempts", rec.Attempts).
		Msg("deferred request failed permanently")
}
