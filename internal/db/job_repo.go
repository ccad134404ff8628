package db

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tenderwatch/internal/types"
)

// jobColumns is the canonical select list for notification_jobs rows.
const jobColumns = `id, target_user_id, subject_id, subject_version, type, status,
	priority, dedup_key, created_at, scheduled_at, processed_at,
	retry_count, max_retries, last_error, delivered_at, delivery_receipt_id, metadata`

// JobRepository provides data access for the notification_jobs table. It is
// the single owner of queue persistence: the enqueuer, dispatcher, admin
// operations, and stats aggregation all consume narrow slices of it.
//
// Concurrency model: ClaimBatch is the only read-modify operation and is a
// single UPDATE over a FOR UPDATE SKIP LOCKED subselect, so concurrent ticks
// never claim the same row. Every other transition is a conditional update
// guarded by the expected current status; a lost race surfaces as
// ErrCodeConflictClaimLost and is treated as a no-op by callers.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository backed by the given database
// connection (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// Insert creates a new job row. The caller must set ID, DedupKey, and all
// scheduling fields. A unique partial index on dedup_key (over non-terminal
// rows) backs the one-active-job invariant; violations are reported as
// ErrCodeConflictDuplicate so the enqueuer can resolve the existing job.
func (r *JobRepository) Insert(ctx context.Context, job *types.NotificationJob) error {
	meta, err := metadataJSON(job.Metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal job metadata", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notification_jobs
		 (id, target_user_id, subject_id, subject_version, type, status, priority,
		  dedup_key, created_at, scheduled_at, retry_count, max_retries, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID,
		job.TargetUserID,
		job.SubjectID,
		job.SubjectVersion,
		string(job.Type),
		string(job.Status),
		job.Priority,
		job.DedupKey,
		job.CreatedAt,
		job.ScheduledAt,
		job.RetryCount,
		job.MaxRetries,
		meta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return types.NewAppError(types.ErrCodeConflictDuplicate, "an active job already exists for this target and subject", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert job", err)
	}
	return nil
}

// GetByID retrieves a single job, or ErrCodeNotFoundJob.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*types.NotificationJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get job", err)
	}
	return job, nil
}

// FindActiveByDedupKey returns the non-terminal job holding the given dedup
// key, or nil when no active job exists. Used by the enqueuer for idempotent
// enqueue resolution.
func (r *JobRepository) FindActiveByDedupKey(ctx context.Context, key string) (*types.NotificationJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE dedup_key = $1 AND status IN ('pending', 'processing')
		 LIMIT 1`,
		key,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up active job", err)
	}
	return job, nil
}

// ClaimBatch atomically selects up to limit due jobs ordered by priority DESC,
// created_at ASC and flips them to processing with processed_at = now. The
// SKIP LOCKED subselect guarantees that no two concurrent claims return the
// same row, even across processes.
//
// The returned slice preserves the claim ordering; RETURNING does not
// guarantee row order, so rows are re-sorted after scanning.
func (r *JobRepository) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*types.NotificationJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`UPDATE notification_jobs SET
			status = 'processing',
			processed_at = $2
		 WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = 'pending' AND scheduled_at <= $2
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		limit,
		now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job batch", err)
	}
	defer rows.Close()

	var claimed []*types.NotificationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed job", scanErr)
		}
		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed jobs", err)
	}

	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].Priority != claimed[j].Priority {
			return claimed[i].Priority > claimed[j].Priority
		}
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})

	return claimed, nil
}

// MarkSent records a successful delivery: processing -> sent. Fails with
// ErrCodeConflictClaimLost if the job is no longer processing (another actor
// resolved it first).
func (r *JobRepository) MarkSent(ctx context.Context, id string, receiptID string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			status = 'sent',
			delivered_at = $2,
			delivery_receipt_id = $3,
			last_error = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, now, receiptID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictClaimLost, "job no longer processing", nil)
	}
	return nil
}

// MarkRetry schedules a failed attempt for another try: processing -> pending
// with the incremented retry count and the backoff-adjusted scheduled_at.
func (r *JobRepository) MarkRetry(ctx context.Context, id string, retryCount int, scheduledAt time.Time, lastError string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			status = 'pending',
			retry_count = $2,
			scheduled_at = $3,
			last_error = $4
		 WHERE id = $1 AND status = 'processing'`,
		id, retryCount, scheduledAt, lastError,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job for retry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictClaimLost, "job no longer processing", nil)
	}
	return nil
}

// MarkFailed records a terminal failure: processing -> failed.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			status = 'failed',
			retry_count = $2,
			last_error = $3
		 WHERE id = $1 AND status = 'processing'`,
		id, retryCount, lastError,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictClaimLost, "job no longer processing", nil)
	}
	return nil
}

// ResetForRetry applies the admin retry transition: failed -> pending with
// retry_count reset and last_error cleared. Returns false (no error) when the
// job is not currently failed, so the caller can report a no-op.
func (r *JobRepository) ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			status = 'pending',
			retry_count = 0,
			scheduled_at = $2,
			last_error = NULL
		 WHERE id = $1 AND status = 'failed'`,
		id, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reset job for retry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel applies the admin cancel transition from pending or processing.
// Returns false when the job is already terminal. Cancellation of a
// processing job is best-effort: an in-flight send that completes first wins
// the conditional update race and the job lands as sent.
func (r *JobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET status = 'cancelled'
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BulkResetFailed moves every failed job back to pending with a cleared retry
// budget. Returns the number of jobs affected.
func (r *JobRepository) BulkResetFailed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			status = 'pending',
			retry_count = 0,
			scheduled_at = $1,
			last_error = NULL
		 WHERE status = 'failed'`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to bulk-retry failed jobs", err)
	}
	return tag.RowsAffected(), nil
}

// BulkCancelPending cancels every pending job. Returns the number of jobs
// affected. In-flight processing jobs are left alone; an operator cancels
// those individually so a send that is about to land is not masked.
func (r *JobRepository) BulkCancelPending(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET status = 'cancelled'
		 WHERE status = 'pending'`,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to bulk-cancel pending jobs", err)
	}
	return tag.RowsAffected(), nil
}

// List retrieves jobs ordered by created_at DESC with an optional status
// filter and limit/offset pagination. This backs the operator queue view.
func (r *JobRepository) List(ctx context.Context, status *types.JobStatus, limit, offset int) ([]*types.NotificationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+jobColumns+`
			 FROM notification_jobs
			 WHERE status = $1
			 ORDER BY created_at DESC
			 LIMIT $2 OFFSET $3`,
			string(*status), limit, offset,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+jobColumns+`
			 FROM notification_jobs
			 ORDER BY created_at DESC
			 LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs", err)
	}
	defer rows.Close()

	var results []*types.NotificationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job row", scanErr)
		}
		results = append(results, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job rows", err)
	}

	return results, nil
}

// CountsByStatus returns the number of jobs in each status. Statuses with no
// jobs are absent from the map.
func (r *JobRepository) CountsByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_jobs GROUP BY status`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by status", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count", err)
		}
		counts[types.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating status counts", err)
	}

	return counts, nil
}

// AvgTurnaround returns the mean delivered_at - created_at over sent jobs, or
// zero when nothing has been sent yet.
func (r *JobRepository) AvgTurnaround(ctx context.Context) (time.Duration, error) {
	var seconds float64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(EXTRACT(EPOCH FROM AVG(delivered_at - created_at)), 0)
		 FROM notification_jobs
		 WHERE status = 'sent'`,
	).Scan(&seconds)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to compute average turnaround", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ListTerminalBefore returns terminal jobs whose resolution time predates the
// cutoff, up to limit rows. Used by the purge archiver to snapshot rows before
// deletion. Resolution time is delivered_at for sent jobs and processed_at
// (falling back to created_at) otherwise.
func (r *JobRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.NotificationJob, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE status IN ('sent', 'failed', 'cancelled')
		   AND COALESCE(delivered_at, processed_at, created_at) < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list terminal jobs", err)
	}
	defer rows.Close()

	var results []*types.NotificationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan terminal job", scanErr)
		}
		results = append(results, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating terminal jobs", err)
	}

	return results, nil
}

// DeleteTerminalByIDs hard-deletes the given jobs, skipping any that are no
// longer terminal. Used by the purge loop after a batch has been archived.
func (r *JobRepository) DeleteTerminalByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_jobs
		 WHERE id = ANY($1) AND status IN ('sent', 'failed', 'cancelled')`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete purged jobs", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalBefore hard-deletes terminal jobs older than the cutoff.
// Non-terminal jobs are never deleted. Returns the count of deleted rows.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_jobs
		 WHERE status IN ('sent', 'failed', 'cancelled')
		   AND COALESCE(delivered_at, processed_at, created_at) < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge terminal jobs", err)
	}
	return tag.RowsAffected(), nil
}

// ReclaimStale returns abandoned claims to the queue: processing jobs whose
// processed_at predates the liveness cutoff are flipped back to pending. This
// is what makes delivery at-least-once when a worker dies between send and
// update. Returns the count of reclaimed jobs.
func (r *JobRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			status = 'pending',
			last_error = 'reclaimed: claim expired'
		 WHERE status = 'processing' AND processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim stale jobs", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a notification_jobs row in jobColumns order. Works for both
// pgx.Row and pgx.Rows via the shared Scan signature.
func scanJob(row pgx.Row) (*types.NotificationJob, error) {
	var (
		job       types.NotificationJob
		jobType   string
		status    string
		lastError *string
		receiptID *string
		meta      []byte
	)

	err := row.Scan(
		&job.ID,
		&job.TargetUserID,
		&job.SubjectID,
		&job.SubjectVersion,
		&jobType,
		&status,
		&job.Priority,
		&job.DedupKey,
		&job.CreatedAt,
		&job.ScheduledAt,
		&job.ProcessedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&lastError,
		&job.DeliveredAt,
		&receiptID,
		&meta,
	)
	if err != nil {
		return nil, err
	}

	job.Type = types.JobType(jobType)
	job.Status = types.JobStatus(status)
	if lastError != nil {
		job.LastError = *lastError
	}
	if receiptID != nil {
		job.DeliveryReceiptID = *receiptID
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &job.Metadata)
	}

	return &job, nil
}

// metadataJSON serializes job metadata for the JSONB column, defaulting to an
// empty object.
func metadataJSON(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}
