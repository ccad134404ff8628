package dispatch

import (
	"errors"
	"time"

	"tenderwatch/internal/types"
)

// RetryPolicy defines the exponential backoff parameters for delivery
// retries: delay = min(BaseDelay * 2^retryCount, MaxDelay).
//
// The cap matters: retry budgets are caller-controlled, and an uncapped
// exponent would push a generous budget's later retries out by days.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the production policy: one minute doubling up to
// a six-hour ceiling (1m, 2m, 4m, ... 6h).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: time.Minute,
		MaxDelay:  6 * time.Hour,
	}
}

// Decision is the next state computed for a failed delivery attempt.
// Status is either pending (retry scheduled at ScheduledAt) or failed
// (terminal).
type Decision struct {
	Status      types.JobStatus
	RetryCount  int
	ScheduledAt time.Time
	Reason      string
}

// Decide computes the transition for a job whose send attempt failed. It is a
// pure function of the job's retry state, the failure, and now.
//
// Non-retryable failures (vanished target, unknown job type) go straight to
// failed regardless of remaining budget: retrying cannot make a deleted user
// reappear. Retryable failures consume one retry; when the budget is spent
// the job fails terminally with retry_count == max_retries.
func (p RetryPolicy) Decide(job *types.NotificationJob, sendErr error, now time.Time) Decision {
	reason := "unknown send failure"
	if sendErr != nil {
		reason = sendErr.Error()
	}

	attempt := job.RetryCount + 1
	if attempt > job.MaxRetries {
		attempt = job.MaxRetries
	}

	if !Retryable(sendErr) || attempt >= job.MaxRetries {
		return Decision{
			Status:     types.JobStatusFailed,
			RetryCount: attempt,
			Reason:     reason,
		}
	}

	return Decision{
		Status:      types.JobStatusPending,
		RetryCount:  attempt,
		ScheduledAt: now.Add(p.Backoff(attempt)),
		Reason:      reason,
	}
}

// Backoff returns the delay before the attempt numbered retryCount becomes
// eligible again: BaseDelay doubled retryCount times, capped at MaxDelay.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay < 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Retryable classifies a send failure. Target-not-found, unsupported-type,
// and render failures cannot self-resolve and are terminal; everything else,
// including failures that carry no taxonomy code, is assumed transient.
func Retryable(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeSendTargetNotFound,
			types.ErrCodeSendUnsupportedType,
			types.ErrCodeSendRenderFailed:
			return false
		}
	}
	return true
}
