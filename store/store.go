// Package store persists deferred-request records. All status transitions
// are compare-and-set on the expected prior status so that duplicate queue
// deliveries and cancel/complete races resolve to exactly one winner.
package store

import (
	"context"
	"errors"
	"time"

	"blafast-backend/models"
)

var ErrNotFound = errors.New("deferred request not found")

// RequestStore is the single shared mutable resource of the deferred-request
// engine. Implementations must make each transition a single atomic
// conditional update; the boolean results report whether the caller's write
// won.
type RequestStore interface {
	Create(ctx context.Context, r *models.DeferredRequest) error
	Get(ctx context.Context, id string) (*models.DeferredRequest, error)
	ListByUser(ctx context.Context, organizationID, userID string, limit int) ([]models.DeferredRequest, error)
	CountByStatus(ctx context.Context, organizationID string) (map[models.DeferredStatus]int64, error)

	// ClaimForProcessing moves Pending or Failed (queue-retry re-invocation)
	// to Processing, stamping started_at and incrementing attempts, bounded
	// by max_attempts. ok=false means the delivery is a duplicate or the
	// record is terminal; the caller acks and moves on.
	ClaimForProcessing(ctx context.Context, id string) (*models.DeferredRequest, bool, error)

	// Complete moves Processing to Completed with the replay outcome.
	Complete(ctx context.Context, id string, result []byte, statusCode int) (bool, error)

	// Fail moves Processing to Failed for this attempt.
	Fail(ctx context.Context, id string, errorCode, errorMessage string) (bool, error)

	// Cancel moves Pending or Processing to Cancelled. A later Complete/Fail
	// from an abandoned in-flight execution loses the CAS and is discarded.
	Cancel(ctx context.Context, id string) (bool, error)

	SetProgress(ctx context.Context, id string, progress int, message string) error

	// StalePending lists Pending records untouched by any worker, for the
	// reconciliation sweep re-enqueueing records whose enqueue was lost.
	StalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.DeferredRequest, error)

	// NonTerminalExpired lists records past the cutoff that never reached a
	// terminal status; the cleanup sweep warns about these before purging.
	NonTerminalExpired(ctx context.Context, cutoff time.Time) ([]models.DeferredRequest, error)

	// DeleteExpired hard-deletes records whose expires_at is before cutoff,
	// regardless of status.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
