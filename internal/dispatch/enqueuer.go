package dispatch

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"tenderwatch/internal/types"
)

// EnqueueStore is the slice of the job repository the Enqueuer needs.
type EnqueueStore interface {
	Insert(ctx context.Context, job *types.NotificationJob) error
	FindActiveByDedupKey(ctx context.Context, key string) (*types.NotificationJob, error)
}

// EnqueueInput carries a producer's request to notify a user about a subject.
//
// Priority is stored as given; zero is a valid lowest-urgency value, not a
// request for a default. Callers that want the platform default resolve it
// before building the input (the HTTP layer defaults an omitted priority).
type EnqueueInput struct {
	TargetUserID   string
	SubjectID      string
	SubjectVersion int
	Type           types.JobType
	Priority       int
	MaxRetries     int
	Metadata       map[string]any
}

// EnqueueResult reports the job backing the request. Duplicate is true when
// an active job for the same (target, subject, version, type) already existed
// and its ID was returned instead of creating a new one.
type EnqueueResult struct {
	JobID     string
	Duplicate bool
}

// Enqueuer validates and inserts new jobs, enforcing the one-active-job
// invariant: re-enqueuing the same logical notification while the first job
// is still in flight is an expected caller pattern and resolves to the
// existing job, not an error.
type Enqueuer struct {
	store             EnqueueStore
	clock             types.Clock
	logger            types.Logger
	defaultMaxRetries int
}

// NewEnqueuer creates an Enqueuer. defaultMaxRetries applies when the input
// leaves MaxRetries unset; values <= 0 fall back to 3.
func NewEnqueuer(store EnqueueStore, clock types.Clock, logger types.Logger, defaultMaxRetries int) *Enqueuer {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = 3
	}
	return &Enqueuer{
		store:             store,
		clock:             clock,
		logger:            logger,
		defaultMaxRetries: defaultMaxRetries,
	}
}

// Enqueue validates the input and inserts a pending job scheduled now.
func (e *Enqueuer) Enqueue(ctx context.Context, in EnqueueInput) (EnqueueResult, error) {
	if err := validateEnqueueInput(in); err != nil {
		return EnqueueResult{}, err
	}

	key := DedupKey(in.TargetUserID, in.SubjectID, in.SubjectVersion, in.Type)

	// Fast path: an active job for this logical notification already exists.
	existing, err := e.store.FindActiveByDedupKey(ctx, key)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue: dedup lookup: %w", err)
	}
	if existing != nil {
		return EnqueueResult{JobID: existing.ID, Duplicate: true}, nil
	}

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.defaultMaxRetries
	}

	now := e.clock.Now()
	job := &types.NotificationJob{
		ID:             "job_" + uuid.New().String(),
		TargetUserID:   in.TargetUserID,
		SubjectID:      in.SubjectID,
		SubjectVersion: in.SubjectVersion,
		Type:           in.Type,
		Status:         types.JobStatusPending,
		Priority:       in.Priority,
		DedupKey:       key,
		CreatedAt:      now,
		ScheduledAt:    now,
		RetryCount:     0,
		MaxRetries:     maxRetries,
		Metadata:       in.Metadata,
	}

	if err := e.store.Insert(ctx, job); err != nil {
		// Two producers raced past the dedup lookup; the store's unique
		// index broke the tie. Resolve to the surviving job.
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicate {
			winner, findErr := e.store.FindActiveByDedupKey(ctx, key)
			if findErr == nil && winner != nil {
				return EnqueueResult{JobID: winner.ID, Duplicate: true}, nil
			}
		}
		return EnqueueResult{}, fmt.Errorf("enqueue: insert: %w", err)
	}

	e.logger.Info("job enqueued",
		"job_id", job.ID,
		"target_user_id", job.TargetUserID,
		"subject_id", job.SubjectID,
		"type", string(job.Type),
		"priority", job.Priority,
	)

	return EnqueueResult{JobID: job.ID}, nil
}

// validateEnqueueInput rejects requests that must never enter the store.
func validateEnqueueInput(in EnqueueInput) error {
	switch {
	case in.TargetUserID == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "target_user_id is required", nil)
	case in.SubjectID == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "subject_id is required", nil)
	case in.Type == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "type is required", nil)
	case !in.Type.Valid():
		return types.NewAppError(types.ErrCodeValidationInvalidType, fmt.Sprintf("unknown job type %q", in.Type), nil)
	case in.Priority < 0:
		return types.NewAppError(types.ErrCodeValidationInvalidValue, "priority must not be negative", nil)
	case in.MaxRetries < 0:
		return types.NewAppError(types.ErrCodeValidationInvalidValue, "max_retries must not be negative", nil)
	}
	return nil
}

// DedupKey derives the deterministic identity of a logical notification from
// (target, subject, version, type). Fields are length-prefixed before hashing
// so no two distinct tuples can collide by concatenation.
func DedupKey(targetUserID, subjectID string, subjectVersion int, jobType types.JobType) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only reachable with a bad key parameter; nil never fails.
		panic(fmt.Sprintf("blake2b init: %v", err))
	}

	var buf [8]byte
	for _, field := range []string{targetUserID, subjectID, string(jobType)} {
		binary.BigEndian.PutUint64(buf[:], uint64(len(field)))
		h.Write(buf[:])
		h.Write([]byte(field))
	}
	binary.BigEndian.PutUint64(buf[:], uint64(subjectVersion))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}
