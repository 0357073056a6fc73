// Package cleanup purges deferred-request records past their retention
// window.
package cleanup

import (
	"context"
	"time"

	"blafast-backend/store"

	"github.com/rs/zerolog/log"
)

type Sweeper struct {
	Store     store.RequestStore
	Retention time.Duration
}

// Run deletes every record with expires_at older than now-retention,
// regardless of status. Purging a record that never reached a terminal
// status is a signal of a stuck task, so those are warned about first.
func (s *Sweeper) Run(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.Retention)

	stuck, err := s.Store.NonTerminalExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, rec := range stuck {
		log.Ctx(ctx).Warn().
			Str("request_id", rec.Id).
			Str("status", string(rec.Status)).
			Time("expires_at", rec.ExpiresAt).
			Msg("purging non-terminal deferred request (stuck task?)")
	}

	deleted, err := s.Store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Ctx(ctx).Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("cleanup sweep finished")
	}
	return deleted, nil
}

// RunPeriodically sweeps on a ticker until ctx is done.
func (s *Sweeper) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("cleanup sweep failed")
			}
		}
	}
}
