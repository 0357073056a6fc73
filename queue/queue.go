// Package queue moves deferred-request ids between the dispatcher and the
// workers over three priority lanes. Each lane is an independent FIFO; lanes
// deliver at-least-once and the store's CAS transitions absorb duplicates.
package queue

import (
	"context"
	"time"

	"blafast-backend/models"
)

// Envelope is what travels on a lane: a reference to the persisted record,
// never a copy of its fields. Workers re-read the record from the store.
type Envelope struct {
	RequestID      string `json:"request_id"`
	OrganizationID string `json:"organization_id"`
	Attempt        int    `json:"attempt"`
}

type Queue interface {
	Enqueue(ctx context.Context, lane models.Priority, env Envelope) error
	// EnqueueDelayed schedules the envelope to surface on its lane at runAt;
	// used for retry backoff.
	EnqueueDelayed(ctx context.Context, lane models.Priority, env Envelope, runAt time.Time) error
	// Claim blocks up to block for the next envelope on the lane. A nil
	// envelope with nil error means nothing was available.
	Claim(ctx context.Context, lane models.Priority, consumer string, block time.Duration) (*Envelope, string, error)
	Ack(ctx context.Context, lane models.Priority, deliveryID string) error
}

// Lanes in consumption order. Each lane gets its own dedicated consumer so a
// low-lane backlog can never starve high.
var Lanes = []models.Priority{models.PriorityHigh, models.PriorityDefault, models.PriorityLow}
