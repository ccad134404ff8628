// Package scheduler implements the scheduled maintenance services for the
// notification queue.
//
// This file defines the shared types for the maintenance multiplexer. The
// MaintenancePayload is the JSON structure sent by EventBridge rules to the
// maintenance Lambda; the TaskType constant determines which service method
// handles the request.
package scheduler

import "time"

// TaskType identifies which maintenance operation should handle an
// EventBridge event. Each constant maps to a specific service method in the
// maintenance multiplexer.
type TaskType string

const (
	// TaskDispatchTick claims and sends a batch of pending jobs. Runs as a
	// periodic sweep so scheduled retries are picked up even when no enqueue
	// trigger fires.
	TaskDispatchTick TaskType = "dispatch_tick"

	// TaskReclaimStale returns jobs stuck in processing past the liveness
	// threshold to pending.
	TaskReclaimStale TaskType = "reclaim_stale"

	// TaskPurgeTerminal archives and deletes terminal jobs older than the
	// retention period.
	TaskPurgeTerminal TaskType = "purge_terminal"
)

// MaintenancePayload is the JSON payload sent by EventBridge to the
// maintenance Lambda. It identifies the task to execute and optionally
// overrides the reference time for manual invocation or backfilling.
//
//	{
//	  "task": "purge_terminal",
//	  "reference_time": "2026-08-30T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime allows manual invocation to specify a different "now"
	// for deterministic execution and backfilling. If nil, the wall clock
	// is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
