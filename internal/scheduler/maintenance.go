// Package scheduler implements the scheduled maintenance services for the
// notification queue.
//
// This file provides:
//
//   - ReclaimService: returns jobs stuck in processing past the liveness
//     threshold back to pending so another worker can claim them.
//   - PurgeService: removes terminal jobs past their retention period,
//     delegating archival-then-delete to the queue admin operations.
//   - SweepService: runs a dispatch tick on a timer so scheduled retries are
//     delivered even when no enqueue-driven trigger arrives.
//
// All services accept a `now` parameter for deterministic testing and manual
// backfill via MaintenancePayload.ReferenceTime.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tenderwatch/internal/types"
)

// -----------------------------------------------------------------------------
// Reclaim Service
// -----------------------------------------------------------------------------

// ReclaimDB defines the database operations needed by the ReclaimService.
type ReclaimDB interface {
	// ReclaimStale resets processing jobs claimed before cutoff back to
	// pending. Returns the count of reclaimed rows.
	//
	// SQL: UPDATE notification_jobs SET status = 'pending', ...
	//      WHERE status = 'processing' AND processed_at < $1
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReclaimService returns jobs whose worker died mid-send to the pending pool.
// Combined with at-least-once delivery this is what makes a crashed worker
// invisible to the caller: the claim simply expires.
type ReclaimService struct {
	db     ReclaimDB
	logger *slog.Logger
}

// NewReclaimService creates a new ReclaimService.
func NewReclaimService(db ReclaimDB, logger *slog.Logger) *ReclaimService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReclaimService{
		db:     db,
		logger: logger,
	}
}

// ReclaimStale resets jobs that have been in processing longer than the
// threshold. A job reclaimed here may still be delivered by its original
// worker; the conditional terminal updates make that worker's late
// transition a no-op.
//
// Returns the count of jobs reclaimed.
func (r *ReclaimService) ReclaimStale(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	cutoff := now.Add(-threshold)

	count, err := r.db.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale claims: %w", err)
	}

	if count > 0 {
		r.logger.InfoContext(ctx, "reclaimed stale claims",
			"count", count,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	} else {
		r.logger.InfoContext(ctx, "no stale claims to reclaim")
	}

	return int(count), nil
}

// -----------------------------------------------------------------------------
// Purge Service
// -----------------------------------------------------------------------------

// Purger abstracts the archive-then-delete purge implemented by the queue
// admin operations.
type Purger interface {
	PurgeOld(ctx context.Context, retention time.Duration) (int64, error)
}

// PurgeService removes terminal jobs older than the retention period.
type PurgeService struct {
	purger Purger
	logger *slog.Logger
}

// NewPurgeService creates a new PurgeService.
func NewPurgeService(purger Purger, logger *slog.Logger) *PurgeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeService{
		purger: purger,
		logger: logger,
	}
}

// PurgeTerminal deletes sent, failed, and cancelled jobs past the retention
// window. Archival (when configured) happens before deletion inside the
// purger.
//
// Returns the count of jobs purged.
func (p *PurgeService) PurgeTerminal(ctx context.Context, retention time.Duration) (int, error) {
	count, err := p.purger.PurgeOld(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("purging terminal jobs: %w", err)
	}

	p.logger.InfoContext(ctx, "terminal job purge complete",
		"purged", count,
		"retention", retention.String(),
	)

	return int(count), nil
}

// -----------------------------------------------------------------------------
// Sweep Service
// -----------------------------------------------------------------------------

// Ticker abstracts a single dispatch pass over the pending queue.
type Ticker interface {
	Tick(ctx context.Context, batchSize int) (types.TickResult, error)
}

// SweepService runs dispatch ticks on a schedule. Enqueue-driven triggers
// wake workers promptly for new jobs, but a retried job's scheduled_at lands
// in the future with no trigger attached; the sweep is what delivers it.
type SweepService struct {
	ticker    Ticker
	batchSize int
	logger    *slog.Logger
}

// NewSweepService creates a new SweepService claiming up to batchSize jobs
// per sweep.
func NewSweepService(ticker Ticker, batchSize int, logger *slog.Logger) *SweepService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepService{
		ticker:    ticker,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Sweep performs one dispatch tick. Per-job send failures are accounted
// inside the TickResult and do not fail the sweep.
//
// Returns the number of jobs claimed.
func (s *SweepService) Sweep(ctx context.Context) (int, error) {
	result, err := s.ticker.Tick(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dispatch sweep: %w", err)
	}

	s.logger.InfoContext(ctx, "dispatch sweep complete",
		"claimed", result.Claimed,
		"sent", result.Sent,
		"retried", result.Retried,
		"failed", result.Failed,
	)

	return result.Claimed, nil
}
