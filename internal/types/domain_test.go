package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJobStatusIsTerminal(t *testing.T) {
	cases := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusSent, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
		{JobStatus("unknown"), false},
	}

	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.want {
			t.Errorf("Terminal(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestJobTypeValid(t *testing.T) {
	if !JobTypeContractMatch.Valid() || !JobTypeDeadlineReminder.Valid() {
		t.Error("built-in job types must be valid")
	}
	if JobType("carrier_pigeon").Valid() {
		t.Error("unknown job type must be invalid")
	}
	if JobType("").Valid() {
		t.Error("empty job type must be invalid")
	}
}

func TestRetriesExhausted(t *testing.T) {
	cases := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"fresh job", 0, 3, false},
		{"one left", 1, 3, false},
		{"last attempt", 2, 3, true},
		{"over budget", 3, 3, true},
		{"zero budget", 0, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := &NotificationJob{RetryCount: tc.retryCount, MaxRetries: tc.maxRetries}
			if got := job.RetriesExhausted(); got != tc.want {
				t.Errorf("RetriesExhausted() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestNotificationJobJSONOmitsDedupKey verifies the dedup key never leaks
// through API responses.
func TestNotificationJobJSONOmitsDedupKey(t *testing.T) {
	job := NotificationJob{
		ID:       "job_1",
		DedupKey: "aabbcc",
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "aabbcc") {
		t.Errorf("dedup key leaked into JSON: %s", data)
	}
}
