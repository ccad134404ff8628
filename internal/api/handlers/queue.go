// Package handlers contains the HTTP handler implementations for the
// TenderWatch queue API.
//
// This file implements the queue handler. It covers:
//   - Job enqueue (POST /v1/queue/jobs)
//   - Manual dispatch tick (POST /v1/queue/ticks)
//   - Queue statistics (GET /v1/queue/stats)
//   - Job listing for the ops dashboard (GET /v1/queue/jobs)
//   - Admin retry/cancel for a single job
//   - Bulk retry-failed / cancel-pending
//   - Retention purge (POST /v1/queue/purge)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tenderwatch/internal/core"
	"tenderwatch/internal/dispatch"
	"tenderwatch/internal/types"
)

// --- Service Interfaces ---
//
// These interfaces are defined locally following the handler injection
// pattern. The handler depends on abstractions for testability and to avoid
// coupling to concrete implementations.

// QueueEnqueuer accepts new notification jobs.
type QueueEnqueuer interface {
	Enqueue(ctx context.Context, in dispatch.EnqueueInput) (dispatch.EnqueueResult, error)
}

// QueueTicker runs one claim-and-send pass over pending jobs.
type QueueTicker interface {
	Tick(ctx context.Context, batchSize int) (types.TickResult, error)
}

// QueueAdmin exposes the operator interventions on individual jobs and the
// bulk/purge operations.
type QueueAdmin interface {
	Retry(ctx context.Context, jobID string) (bool, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	BulkRetryFailed(ctx context.Context) (int64, error)
	BulkCancelPending(ctx context.Context) (int64, error)
	PurgeOld(ctx context.Context, retention time.Duration) (int64, error)
}

// QueueStatsProvider computes the aggregate queue view.
type QueueStatsProvider interface {
	Stats(ctx context.Context) (types.QueueStats, error)
}

// QueueLister reads jobs for the ops dashboard.
type QueueLister interface {
	List(ctx context.Context, status *types.JobStatus, limit, offset int) ([]*types.NotificationJob, error)
}

// DispatchNotifier wakes a dispatch worker after an enqueue so the new job
// does not wait for the next scheduled sweep. Optional; nil disables the
// wake and jobs ride the sweep instead.
type DispatchNotifier interface {
	TriggerDispatch(ctx context.Context, batchSize int, reason string) error
}

// --- Request/Response Models ---

// defaultEnqueuePriority applies when the request body omits priority.
// An explicit "priority": 0 is honored as the lowest urgency.
const defaultEnqueuePriority = 1

// EnqueueJobRequest is the request body for POST /v1/queue/jobs.
// Priority is a pointer so an omitted field is distinguishable from an
// explicit zero.
type EnqueueJobRequest struct {
	TargetUserID   string         `json:"target_user_id" validate:"required,max=100"`
	SubjectID      string         `json:"subject_id" validate:"required,max=100"`
	SubjectVersion int            `json:"subject_version" validate:"min=0"`
	Type           string         `json:"type" validate:"required"`
	Priority       *int           `json:"priority,omitempty" validate:"omitempty,min=0,max=100"`
	MaxRetries     int            `json:"max_retries" validate:"min=0,max=10"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EnqueueJobResponse reports the job backing an enqueue request.
type EnqueueJobResponse struct {
	JobID     string `json:"job_id"`
	Duplicate bool   `json:"duplicate"`
}

// TickRequest is the request body for POST /v1/queue/ticks. A zero BatchSize
// uses the configured default.
type TickRequest struct {
	BatchSize int `json:"batch_size" validate:"min=0,max=100"`
}

// PurgeRequest is the request body for POST /v1/queue/purge.
type PurgeRequest struct {
	RetentionDays int `json:"retention_days" validate:"required,min=1,max=3650"`
}

// AffectedResponse reports the row count of a bulk operation.
type AffectedResponse struct {
	Affected int64 `json:"affected"`
}

// AppliedResponse reports whether a single-job admin action changed state.
type AppliedResponse struct {
	JobID   string `json:"job_id"`
	Applied bool   `json:"applied"`
}

// --- Handler ---

// QueueHandler manages the notification queue API surface.
type QueueHandler struct {
	enqueuer  QueueEnqueuer
	ticker    QueueTicker
	admin     QueueAdmin
	stats     QueueStatsProvider
	lister    QueueLister
	notifier  DispatchNotifier
	validator *core.Validator
	logger    *slog.Logger

	defaultBatchSize int
}

// NewQueueHandler creates a QueueHandler with the provided dependencies.
// notifier may be nil when no dispatch queue is configured.
func NewQueueHandler(
	enqueuer QueueEnqueuer,
	ticker QueueTicker,
	admin QueueAdmin,
	stats QueueStatsProvider,
	lister QueueLister,
	notifier DispatchNotifier,
	v *core.Validator,
	l *slog.Logger,
	defaultBatchSize int,
) *QueueHandler {
	if l == nil {
		l = slog.Default()
	}
	if defaultBatchSize <= 0 {
		defaultBatchSize = 25
	}
	return &QueueHandler{
		enqueuer:         enqueuer,
		ticker:           ticker,
		admin:            admin,
		stats:            stats,
		lister:           lister,
		notifier:         notifier,
		validator:        v,
		logger:           l,
		defaultBatchSize: defaultBatchSize,
	}
}

// RegisterRoutes mounts queue routes on the provided chi.Router.
func (h *QueueHandler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Post("/jobs", h.Enqueue)
		r.Get("/jobs", h.List)
		r.Post("/jobs/retry-failed", h.BulkRetryFailed)
		r.Post("/jobs/cancel-pending", h.BulkCancelPending)

		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Post("/retry", h.Retry)
			r.Post("/cancel", h.Cancel)
		})

		r.Post("/ticks", h.Tick)
		r.Get("/stats", h.Stats)
		r.Post("/purge", h.Purge)
	})
}

// --- Handler Methods ---

// Enqueue handles POST /v1/queue/jobs.
//
//  1. Decode and validate the request.
//  2. Enqueue via the Enqueuer (idempotent on the dedup key).
//  3. Wake a dispatch worker when the job is new and a notifier is wired.
//  4. Return 201 Created for new jobs, 200 OK for duplicates.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	priority := defaultEnqueuePriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	result, err := h.enqueuer.Enqueue(r.Context(), dispatch.EnqueueInput{
		TargetUserID:   req.TargetUserID,
		SubjectID:      req.SubjectID,
		SubjectVersion: req.SubjectVersion,
		Type:           types.JobType(req.Type),
		Priority:       priority,
		MaxRetries:     req.MaxRetries,
		Metadata:       req.Metadata,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !result.Duplicate && h.notifier != nil {
		// Best-effort wake; the scheduled sweep covers a lost trigger.
		if err := h.notifier.TriggerDispatch(r.Context(), h.defaultBatchSize, "enqueue"); err != nil {
			h.logger.Warn("dispatch trigger failed after enqueue",
				slog.String("job_id", result.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}

	core.JSON(w, r, status, core.APIResponse{Data: EnqueueJobResponse{
		JobID:     result.JobID,
		Duplicate: result.Duplicate,
	}})
}

// Tick handles POST /v1/queue/ticks. It runs one synchronous dispatch pass
// and returns the tick counters. Used by operators to drain the queue without
// waiting for the scheduler.
func (h *QueueHandler) Tick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = h.defaultBatchSize
	}

	result, err := h.ticker.Tick(r.Context(), batchSize)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// Stats handles GET /v1/queue/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

// List handles GET /v1/queue/jobs. Supports optional ?status=, ?limit=, and
// ?offset= query parameters. Jobs are returned newest first.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *types.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := types.JobStatus(raw)
		if !s.Valid() {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidValue,
				"unknown status "+strconv.Quote(raw),
				nil,
			))
			return
		}
		status = &s
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := h.lister.List(r.Context(), status, limit, offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: jobs,
		Meta: &types.ResponseMeta{
			Pagination: &types.PageInfo{
				HasMore: len(jobs) == limit,
				Limit:   limit,
				Offset:  offset,
			},
		},
	})
}

// Retry handles POST /v1/queue/jobs/{id}/retry. Resets a failed job to
// pending with a fresh retry budget. Applied is false when the job was not
// in a retryable state.
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	applied, err := h.admin.Retry(r.Context(), jobID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AppliedResponse{
		JobID:   jobID,
		Applied: applied,
	}})
}

// Cancel handles POST /v1/queue/jobs/{id}/cancel. Cancels a pending or
// processing job; terminal jobs are reported as not applied.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	applied, err := h.admin.Cancel(r.Context(), jobID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AppliedResponse{
		JobID:   jobID,
		Applied: applied,
	}})
}

// BulkRetryFailed handles POST /v1/queue/jobs/retry-failed.
func (h *QueueHandler) BulkRetryFailed(w http.ResponseWriter, r *http.Request) {
	affected, err := h.admin.BulkRetryFailed(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AffectedResponse{Affected: affected}})
}

// BulkCancelPending handles POST /v1/queue/jobs/cancel-pending.
func (h *QueueHandler) BulkCancelPending(w http.ResponseWriter, r *http.Request) {
	affected, err := h.admin.BulkCancelPending(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AffectedResponse{Affected: affected}})
}

// Purge handles POST /v1/queue/purge. Archives (when configured) and deletes
// terminal jobs older than the requested retention.
func (h *QueueHandler) Purge(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	retention := time.Duration(req.RetentionDays) * 24 * time.Hour

	deleted, err := h.admin.PurgeOld(r.Context(), retention)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AffectedResponse{Affected: deleted}})
}

// queryInt parses an integer query parameter, falling back to def on absence
// or garbage. Range clamping is the repository's concern.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
