package types

import (
	"time"
)

// JobStatus is the lifecycle state of a notification job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is one of the five known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSent, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal jobs never transition
// again except through an explicit admin retry (failed -> pending).
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSent, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType identifies the purpose of a notification job. The set is closed:
// each type maps to a registered renderer, and unknown types are rejected at
// enqueue time and fail permanently at dispatch time.
type JobType string

const (
	JobTypeContractMatch    JobType = "contract_match"
	JobTypeDeadlineReminder JobType = "deadline_reminder"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeContractMatch, JobTypeDeadlineReminder:
		return true
	}
	return false
}

// NotificationJob is the unit of work in the delivery queue: "notify this user
// about this contract". Jobs are created by the Enqueuer, claimed and resolved
// by the Dispatcher, and mutated out-of-band only by admin operations.
type NotificationJob struct {
	ID string `json:"id" db:"id"`

	// Target and subject identity. SubjectVersion distinguishes re-notifiable
	// updates to the same contract from a stale job for an earlier revision.
	TargetUserID   string `json:"target_user_id" db:"target_user_id"`
	SubjectID      string `json:"subject_id" db:"subject_id"`
	SubjectVersion int    `json:"subject_version" db:"subject_version"`

	Type     JobType   `json:"type" db:"type"`
	Status   JobStatus `json:"status" db:"status"`
	Priority int       `json:"priority" db:"priority"`

	// DedupKey is the blake2b digest of (target, subject, version, type).
	// A partial unique index on this column enforces the one-active-job
	// invariant at the store level.
	DedupKey string `json:"-" db:"dedup_key"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`

	RetryCount int    `json:"retry_count" db:"retry_count"`
	MaxRetries int    `json:"max_retries" db:"max_retries"`
	LastError  string `json:"last_error,omitempty" db:"last_error"`

	// Set only when the job lands as sent.
	DeliveredAt       *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	DeliveryReceiptID string     `json:"delivery_receipt_id,omitempty" db:"delivery_receipt_id"`

	// Metadata is an opaque payload forwarded to the sender for rendering.
	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// RetriesExhausted reports whether one more failure would exceed the job's
// retry budget.
func (j *NotificationJob) RetriesExhausted() bool {
	return j.RetryCount+1 >= j.MaxRetries
}

// TickResult aggregates the outcome of one dispatch tick for the caller
// (scheduler or admin trigger) to log and alert on. Per-job failures are
// folded into the counters; Errors carries only unexpected failures that do
// not map to a job state transition.
type TickResult struct {
	Claimed int      `json:"claimed"`
	Sent    int      `json:"sent"`
	Retried int      `json:"retried"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// QueueStats is the read-only aggregate view over the job store.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`

	// SuccessRate is sent / (sent + failed), 0 when no job has resolved yet.
	SuccessRate float64 `json:"success_rate"`

	// AvgTurnaround is the mean delivered_at - created_at across sent jobs.
	AvgTurnaround time.Duration `json:"avg_turnaround_ns"`
}

// UserProfile is the read-only subscriber projection the sender needs to
// address and personalize a message. Resolved via the catalog, never mutated
// by the queue.
type UserProfile struct {
	ID                  string   `json:"id" db:"id"`
	Email               string   `json:"email" db:"email"`
	FirstName           string   `json:"first_name" db:"first_name"`
	LastName            string   `json:"last_name" db:"last_name"`
	PreferredCategories []string `json:"preferred_categories" db:"preferred_categories"`
}

// ContractSummary is the read-only contract projection used to render a
// notification message.
type ContractSummary struct {
	ID                 string     `json:"id" db:"id"`
	Title              string     `json:"title" db:"title"`
	Agency             string     `json:"agency" db:"agency"`
	Category           string     `json:"category" db:"category"`
	EstimatedValue     string     `json:"estimated_value" db:"estimated_value"`
	SubmissionDeadline *time.Time `json:"submission_deadline,omitempty" db:"submission_deadline"`
}

// DispatchMessage is the queue trigger payload consumed by the dispatch
// worker. A producer or admin surface sends one to request an immediate tick
// instead of waiting for the next scheduled run.
type DispatchMessage struct {
	TriggerID   string    `json:"trigger_id"`
	BatchSize   int       `json:"batch_size"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}
