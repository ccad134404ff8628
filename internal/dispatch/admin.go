package dispatch

import (
	"context"
	"fmt"
	"time"

	"tenderwatch/internal/types"
)

// purgeBatchSize bounds how many terminal jobs are archived and deleted per
// round inside PurgeOld.
const purgeBatchSize = 500

// AdminStore is the slice of the job repository the admin operations need.
type AdminStore interface {
	ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	BulkResetFailed(ctx context.Context, now time.Time) (int64, error)
	BulkCancelPending(ctx context.Context) (int64, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.NotificationJob, error)
	DeleteTerminalByIDs(ctx context.Context, ids []string) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver persists a snapshot of jobs before the purge deletes them.
type Archiver interface {
	ArchiveJobs(ctx context.Context, jobs []*types.NotificationJob) error
}

// AdminOps implements the operator-facing mutations: manual retry and cancel,
// their bulk variants, and retention purge. All single-job operations ride on
// the same optimistic-concurrency updates the dispatcher uses, so an admin
// action racing a tick resolves to whichever update commits first.
type AdminOps struct {
	store    AdminStore
	archiver Archiver
	clock    types.Clock
	logger   types.Logger
}

// NewAdminOps creates the admin operation set. archiver may be nil, in which
// case purged jobs are deleted without an archival snapshot.
func NewAdminOps(store AdminStore, archiver Archiver, clock types.Clock, logger types.Logger) *AdminOps {
	return &AdminOps{
		store:    store,
		archiver: archiver,
		clock:    clock,
		logger:   logger,
	}
}

// Retry resets a failed job to pending with a fresh retry budget. This is the
// only legal exit from a terminal state. Returns false when the job is not
// currently failed; the caller reports a no-op.
func (a *AdminOps) Retry(ctx context.Context, jobID string) (bool, error) {
	applied, err := a.store.ResetForRetry(ctx, jobID, a.clock.Now())
	if err != nil {
		return false, fmt.Errorf("admin retry: %w", err)
	}

	if applied {
		a.logger.Info("job reset for retry", "job_id", jobID)
	} else {
		a.logger.Warn("retry skipped, job not in failed state", "job_id", jobID)
	}

	return applied, nil
}

// Cancel moves a pending or processing job to cancelled. Best-effort for
// processing jobs: a send already in flight is not interrupted, and if it
// completes first the job lands as sent.
func (a *AdminOps) Cancel(ctx context.Context, jobID string) (bool, error) {
	applied, err := a.store.Cancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("admin cancel: %w", err)
	}

	if applied {
		a.logger.Info("job cancelled", "job_id", jobID)
	} else {
		a.logger.Warn("cancel skipped, job already terminal", "job_id", jobID)
	}

	return applied, nil
}

// BulkRetryFailed resets every failed job to pending. Returns the count
// affected.
func (a *AdminOps) BulkRetryFailed(ctx context.Context) (int64, error) {
	affected, err := a.store.BulkResetFailed(ctx, a.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("admin bulk retry: %w", err)
	}

	a.logger.Info("bulk retry applied", "affected", affected)
	return affected, nil
}

// BulkCancelPending cancels every pending job and returns the count affected.
// Jobs already claimed into processing are out of scope; cancel them one at a
// time with Cancel, which records the intent even when a send is in flight.
func (a *AdminOps) BulkCancelPending(ctx context.Context) (int64, error) {
	affected, err := a.store.BulkCancelPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("admin bulk cancel: %w", err)
	}

	a.logger.Info("bulk cancel applied", "affected", affected)
	return affected, nil
}

// PurgeOld deletes terminal jobs resolved before now - retention. Non-terminal
// jobs are never touched. When an archiver is configured, each batch is
// snapshotted before deletion so the purge is recoverable.
func (a *AdminOps) PurgeOld(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidValue, "retention must be positive", nil)
	}

	cutoff := a.clock.Now().Add(-retention)

	if a.archiver == nil {
		deleted, err := a.store.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("admin purge: %w", err)
		}
		a.logger.Info("old jobs purged", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
		return deleted, nil
	}

	var total int64
	for {
		batch, err := a.store.ListTerminalBefore(ctx, cutoff, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("admin purge: list batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := a.archiver.ArchiveJobs(ctx, batch); err != nil {
			// Do not delete what was not archived.
			return total, fmt.Errorf("admin purge: archive batch: %w", err)
		}

		ids := make([]string, len(batch))
		for i, job := range batch {
			ids[i] = job.ID
		}

		deleted, err := a.store.DeleteTerminalByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("admin purge: delete batch: %w", err)
		}
		total += deleted

		if len(batch) < purgeBatchSize {
			break
		}
	}

	a.logger.Info("old jobs purged", "deleted", total, "cutoff", cutoff.Format(time.RFC3339))
	return total, nil
}
