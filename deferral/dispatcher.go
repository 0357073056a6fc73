package deferral

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"blafast-backend/config"
	"blafast-backend/models"
	"blafast-backend/orgctx"
	"blafast-backend/queue"
	"blafast-backend/store"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// Inbound captures the parts of the original HTTP request the worker needs
// to replay it headlessly.
type Inbound struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
}

// Dispatcher converts an accepted-for-deferral request into a persisted
// record plus an enqueued envelope referencing it.
type Dispatcher struct {
	Store store.RequestStore
	Queue queue.Queue
	Cfg   config.Deferred
}

// Submit persists the record (status Pending) and enqueues it on the rule's
// lane. The caller guarantees the requester is authenticated. If the enqueue
// fails the record stays Pending and the worker's reconciliation sweep
// re-enqueues it, so "record exists" always implies "will be executed".
func (d *Dispatcher) Submit(ctx context.Context, in Inbound, rule *models.EndpointRule, octx orgctx.Context) (*models.DeferredRequest, error) {
	ttl := rule.ResultTtlSeconds
	if ttl <= 0 {
		ttl = d.Cfg.DefaultResultTTL
	}
	timeout := rule.TimeoutSeconds
	if timeout <= 0 {
		timeout = d.Cfg.DefaultTimeoutSeconds
	}
	priority := rule.Priority
	if priority == "" {
		priority = models.ParsePriority(d.Cfg.DefaultPriority)
	}

	now := time.Now().UTC()
	rec := &models.DeferredRequest{
		OrganizationId: octx.OrganizationID,
		UserId:         octx.UserID,
		HttpMethod:     strings.ToUpper(in.Method),
		Endpoint:       in.Path,
		Status:         models.StatusPending,
		Priority:       priority,
		TimeoutSeconds: timeout,
		MaxAttempts:    d.Cfg.MaxAttempts,
		ExpiresAt:      now.Add(time.Duration(ttl) * time.Second),
	}
	if len(in.Body) > 0 {
		rec.Payload = datatypes.JSON(in.Body)
	}
	if len(in.Query) > 0 {
		b, _ := json.Marshal(in.Query)
		rec.QueryParams = datatypes.JSON(b)
	}
	if filtered := d.filterHeaders(in.Headers); len(filtered) > 0 {
		b, _ := json.Marshal(filtered)
		rec.Headers = datatypes.JSON(b)
	}

	if err := d.Store.Create(ctx, rec); err != nil {
		return nil, err
	}

	env := queue.Envelope{RequestID: rec.Id, OrganizationID: rec.OrganizationId}
	if err := d.Queue.Enqueue(ctx, rec.Priority, env); err != nil {
		// Deliberately not unwound: a Pending record with zero attempts is
		// picked up by the reconciliation sweep.
		log.Ctx(ctx).Warn().Err(err).Str("request_id", rec.Id).
			Msg("enqueue failed after persist, leaving record for reconciliation")
	}
	return rec, nil
}

// filterHeaders keeps only allow-listed headers. Credentials (Authorization
// and friends) never reach the store.
func (d *Dispatcher) filterHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if d.Cfg.HeaderAllowed(k) {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}
