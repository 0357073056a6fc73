// Package worker consumes deferred-request envelopes from the priority
// lanes, replays the captured requests headlessly, and drives the record
// state machine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"blafast-backend/models"
	"blafast-backend/orgctx"
	"blafast-backend/queue"
	"blafast-backend/store"
	"blafast-backend/utils"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Worker struct {
	Store    store.RequestStore
	Queue    queue.Queue
	Executor Executor
	Notifier FailureNotifier

	Consumer    string
	ClaimBlock  time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// ReconcileAfter is how long a Pending record with zero attempts may sit
	// before the sweep assumes its enqueue was lost and re-enqueues it.
	ReconcileAfter    time.Duration
	ReconcileInterval time.Duration
}

func (w *Worker) defaults() {
	if w.Notifier == nil {
		w.Notifier = LogNotifier{}
	}
	if w.ClaimBlock <= 0 {
		w.ClaimBlock = 5 * time.Second
	}
	if w.BaseBackoff <= 0 {
		w.BaseBackoff = 500 * time.Millisecond
	}
	if w.MaxBackoff <= 0 {
		w.MaxBackoff = 30 * time.Second
	}
	if w.ReconcileAfter <= 0 {
		w.ReconcileAfter = 2 * time.Minute
	}
	if w.ReconcileInterval <= 0 {
		w.ReconcileInterval = time.Minute
	}
}

// Run consumes all three lanes until ctx is cancelled. Each lane gets a
// dedicated consumer goroutine, so a low-lane backlog never starves high.
func (w *Worker) Run(ctx context.Context) error {
	w.defaults()

	var wg sync.WaitGroup
	for _, lane := range queue.Lanes {
		wg.Add(1)
		go func(lane models.Priority) {
			defer wg.Done()
			w.consumeLane(ctx, lane)
		}(lane)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reconcileLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (w *Worker) consumeLane(ctx context.Context, lane models.Priority) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, deliveryID, err := w.Queue.Claim(ctx, lane, w.Consumer, w.ClaimBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Ctx(ctx).Error().Err(err).Str("lane", string(lane)).Msg("claim failed")
			continue
		}
		if env == nil {
			continue
		}

		w.Handle(ctx, lane, *env)
		if err := w.Queue.Ack(ctx, lane, deliveryID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("lane", string(lane)).Msg("ack failed")
		}
	}
}

// Handle executes one delivery. The pickup is a compare-and-set: duplicate
// deliveries of an already-claimed or terminal record are acked no-ops.
func (w *Worker) Handle(ctx context.Context, lane models.Priority, env queue.Envelope) {
	rec, claimed, err := w.Store.ClaimForProcessing(ctx, env.RequestID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("request_id", env.RequestID).Msg("pickup failed")
		return
	}
	if !claimed {
		log.Ctx(ctx).Debug().Str("request_id", env.RequestID).Msg("duplicate or terminal delivery, skipping")
		return
	}

	logger := log.Ctx(ctx).With().
		Str("request_id", rec.Id).
		Str("lane", string(lane)).
		Int("attempt", rec.Attempts).
		Logger()
	logger.Info().Str("endpoint", rec.Endpoint).Msg("executing deferred request")

	// The organization context lives only for this task execution; it is a
	// local value, so nothing can leak into other tasks sharing the pool.
	octx := orgctx.NewScoped(rec.OrganizationId, rec.UserId)

	if err := w.Store.SetProgress(ctx, rec.Id, 0, "executing"); err != nil {
		logger.Warn().Err(err).Msg("progress write failed")
	}

	result, execErr := w.execute(ctx, rec, octx)

	if execErr != nil {
		w.failAttempt(ctx, logger, lane, rec, execErr)
		return
	}

	won, err := w.Store.Complete(ctx, rec.Id, result.Body, result.StatusCode)
	if err != nil {
		logger.Error().Err(err).Msg("completion write failed")
		return
	}
	if !won {
		// Lost the CAS, e.g. cancelled mid-flight. The result is discarded.
		logger.Info().Msg("completion discarded, record no longer processing")
		return
	}
	logger.Info().Int("status_code", result.StatusCode).Msg("deferred request completed")
}

// execute runs the replay, converting an executor panic into an error so a
// crashing handler fails the attempt instead of the whole worker process.
func (w *Worker) execute(ctx context.Context, rec *models.DeferredRequest, octx orgctx.Context) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
		}
	}()
	return w.Executor.Execute(ctx, Replay{
		Method:  rec.HttpMethod,
		Path:    rec.Endpoint,
		Query:   decodeStringMap(rec.QueryParams),
		Headers: decodeStringMap(rec.Headers),
		Body:    []byte(rec.Payload),
		Octx:    octx,
		Timeout: time.Duration(rec.TimeoutSeconds) * time.Second,
	})
}

func (w *Worker) failAttempt(ctx context.Context, logger zerolog.Logger, lane models.Priority, rec *models.DeferredRequest, execErr error) {
	code := models.ErrCodeExecution
	switch {
	case errors.Is(execErr, ErrTimeout):
		code = models.ErrCodeTimeout
	case errors.Is(execErr, ErrJobPanic):
		code = models.ErrCodeJobFailed
	}

	won, err := w.Store.Fail(ctx, rec.Id, code, execErr.Error())
	if err != nil {
		logger.Error().Err(err).Msg("failure write failed")
		return
	}
	if !won {
		logger.Info().Msg("failure discarded, record no longer processing")
		return
	}

	if rec.Attempts < rec.MaxAttempts {
		delay := utils.ExponentialJitter(w.BaseBackoff, w.MaxBackoff, rec.Attempts)
		env := queue.Envelope{RequestID: rec.Id, OrganizationID: rec.OrganizationId, Attempt: rec.Attempts}
		if err := w.Queue.EnqueueDelayed(ctx, lane, env, time.Now().Add(delay)); err != nil {
			logger.Error().Err(err).Msg("retry enqueue failed")
		} else {
			logger.Warn().Err(execErr).Dur("retry_in", delay).Msg("attempt failed, retry scheduled")
		}
		return
	}

	logger.Error().Err(execErr).Str("error_code", code).Msg("attempts exhausted")
	w.Notifier.NotifyFailure(ctx, rec, code, execErr.Error())
}

func (w *Worker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ReconcilePending(ctx)
		}
	}
}

// ReconcilePending re-enqueues Pending records whose original enqueue was
// lost (persisted, then the queue write failed).
func (w *Worker) ReconcilePending(ctx context.Context) {
	stale, err := w.Store.StalePending(ctx, time.Now().Add(-w.ReconcileAfter), 100)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("reconciliation query failed")
		return
	}
	for _, rec := range stale {
		env := queue.Envelope{RequestID: rec.Id, OrganizationID: rec.OrganizationId}
		if err := w.Queue.Enqueue(ctx, rec.Priority, env); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("request_id", rec.Id).Msg("reconciliation enqueue failed")
			continue
		}
		log.Ctx(ctx).Warn().Str("request_id", rec.Id).Msg("re-enqueued stale pending record")
	}
}

func decodeStringMap(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal(raw, &m)
	return m
}
