// Package dispatch implements the notification delivery engine: the tick loop
// that claims due jobs, attempts delivery, and applies retry policy, plus the
// enqueue, admin, and stats operations that share the job store. It
// centralizes state-machine enforcement so every mutation of a job goes
// through one of its components.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tenderwatch/internal/types"
)

// DispatchStore is the slice of the job repository the Dispatcher needs.
// Depending on this narrow interface rather than the full repository keeps
// the Dispatcher testable with lightweight fakes.
type DispatchStore interface {
	// ClaimBatch atomically selects up to limit due jobs (pending, scheduled
	// at or before now) ordered by priority DESC, created_at ASC, and flips
	// them to processing. Concurrent calls never return overlapping jobs.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*types.NotificationJob, error)

	// MarkSent resolves a processing job as sent with the provider receipt.
	MarkSent(ctx context.Context, id string, receiptID string, now time.Time) error

	// MarkRetry returns a processing job to pending with an updated retry
	// count and backoff-adjusted schedule.
	MarkRetry(ctx context.Context, id string, retryCount int, scheduledAt time.Time, lastError string) error

	// MarkFailed resolves a processing job as terminally failed.
	MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error
}

// SendResult carries the provider-side identifier for a successful delivery.
type SendResult struct {
	ReceiptID string
}

// Sender delivers one job's content through an outbound channel. Send must
// respect ctx cancellation; the Dispatcher bounds each call with a timeout
// and treats a deadline as a transient failure.
type Sender interface {
	Send(ctx context.Context, job *types.NotificationJob) (SendResult, error)
}

// Config tunes the dispatch loop.
type Config struct {
	// Policy decides retry scheduling; zero value falls back to
	// DefaultRetryPolicy.
	Policy RetryPolicy

	// SendTimeout bounds each Sender.Send call. Default 30s.
	SendTimeout time.Duration

	// Concurrency bounds the number of jobs sent in parallel within one
	// tick. Default 4.
	Concurrency int
}

// Dispatcher drives delivery. Ticks may be triggered concurrently from the
// scheduler and the admin surface; correctness rests on the store's atomic
// claim, so the Dispatcher itself holds no cross-tick state.
type Dispatcher struct {
	store       DispatchStore
	sender      Sender
	policy      RetryPolicy
	metrics     TickMetrics
	clock       types.Clock
	logger      types.Logger
	sendTimeout time.Duration
	concurrency int
}

// NewDispatcher creates a Dispatcher. metrics may be nil, in which case tick
// outcomes are not exported.
func NewDispatcher(store DispatchStore, sender Sender, cfg Config, metrics TickMetrics, clock types.Clock, logger types.Logger) *Dispatcher {
	policy := cfg.Policy
	if policy.BaseDelay <= 0 {
		policy = DefaultRetryPolicy()
	}

	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	if metrics == nil {
		metrics = NoopTickMetrics{}
	}

	return &Dispatcher{
		store:       store,
		sender:      sender,
		policy:      policy,
		metrics:     metrics,
		clock:       clock,
		logger:      logger,
		sendTimeout: sendTimeout,
		concurrency: concurrency,
	}
}

// jobOutcome categorizes how a single claimed job resolved within a tick.
type jobOutcome int

const (
	outcomeSent jobOutcome = iota
	outcomeRetried
	outcomeFailed
	// outcomeLost means the optimistic update was rejected: an admin action
	// or a concurrent actor resolved the job first. Counted nowhere; the
	// winning update already recorded the job's fate.
	outcomeLost
	outcomeError
)

// Tick claims up to batchSize due jobs and attempts delivery for each. Jobs
// in the batch are independent: sends run in parallel (bounded) and one job's
// failure never aborts the others. Only a store failure on the claim itself
// aborts the tick, and in that case no job has been mutated.
func (d *Dispatcher) Tick(ctx context.Context, batchSize int) (types.TickResult, error) {
	now := d.clock.Now()

	jobs, err := d.store.ClaimBatch(ctx, batchSize, now)
	if err != nil {
		return types.TickResult{}, fmt.Errorf("dispatch: claim batch: %w", err)
	}

	result := types.TickResult{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			outcome, procErr := d.processJob(gCtx, job)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				result.Sent++
			case outcomeRetried:
				result.Retried++
			case outcomeFailed:
				result.Failed++
			case outcomeError:
				result.Errors = append(result.Errors, fmt.Sprintf("job %s: %v", job.ID, procErr))
			}
			// Per-job outcomes never abort the batch.
			return nil
		})
	}
	_ = g.Wait()

	d.metrics.RecordTick(ctx, result)

	d.logger.Info("dispatch tick complete",
		"claimed", result.Claimed,
		"sent", result.Sent,
		"retried", result.Retried,
		"failed", result.Failed,
		"errors", len(result.Errors),
	)

	return result, nil
}

// processJob runs the send -> update pair for one claimed job. The returned
// error is non-nil only for outcomeError (an unexpected failure that mapped
// to no state transition).
func (d *Dispatcher) processJob(ctx context.Context, job *types.NotificationJob) (jobOutcome, error) {
	start := d.clock.Now()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	res, sendErr := d.sender.Send(sendCtx, job)
	cancel()

	d.metrics.RecordSendLatency(ctx, job.Type, d.clock.Now().Sub(start))

	now := d.clock.Now()

	if sendErr == nil {
		if err := d.store.MarkSent(ctx, job.ID, res.ReceiptID, now); err != nil {
			if claimLost(err) {
				d.logger.Warn("job resolved by a concurrent actor after send",
					"job_id", job.ID,
					"receipt_id", res.ReceiptID,
				)
				return outcomeLost, nil
			}
			return outcomeError, fmt.Errorf("mark sent: %w", err)
		}
		return outcomeSent, nil
	}

	// A timed-out send is indistinguishable from a provider outage.
	if errors.Is(sendErr, context.DeadlineExceeded) {
		sendErr = types.NewAppError(types.ErrCodeSendTransient, "send timed out", sendErr)
	}

	decision := d.policy.Decide(job, sendErr, now)

	switch decision.Status {
	case types.JobStatusPending:
		if err := d.store.MarkRetry(ctx, job.ID, decision.RetryCount, decision.ScheduledAt, decision.Reason); err != nil {
			if claimLost(err) {
				return outcomeLost, nil
			}
			return outcomeError, fmt.Errorf("mark retry: %w", err)
		}
		d.logger.Warn("delivery failed, will retry",
			"job_id", job.ID,
			"retry_count", decision.RetryCount,
			"max_retries", job.MaxRetries,
			"scheduled_at", decision.ScheduledAt.Format(time.RFC3339),
			"reason", decision.Reason,
		)
		return outcomeRetried, nil

	case types.JobStatusFailed:
		if err := d.store.MarkFailed(ctx, job.ID, decision.RetryCount, decision.Reason); err != nil {
			if claimLost(err) {
				return outcomeLost, nil
			}
			return outcomeError, fmt.Errorf("mark failed: %w", err)
		}
		d.logger.Error("delivery permanently failed",
			"job_id", job.ID,
			"retry_count", decision.RetryCount,
			"reason", decision.Reason,
		)
		return outcomeFailed, nil

	default:
		return outcomeError, fmt.Errorf("retry policy produced unexpected status %q", decision.Status)
	}
}

// claimLost reports whether err is an optimistic-concurrency rejection.
func claimLost(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictClaimLost
}
