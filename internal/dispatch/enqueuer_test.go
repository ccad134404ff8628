package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tenderwatch/internal/types"
)

// testClock implements types.Clock with a constant time.
type testClock struct {
	now time.Time
}

func (c testClock) Now() time.Time { return c.now }

// testLogger satisfies types.Logger with no output.
type testLogger struct{}

func (testLogger) Info(string, ...any)        {}
func (testLogger) Error(string, ...any)       {}
func (testLogger) Warn(string, ...any)        {}
func (l testLogger) With(...any) types.Logger { return l }

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

// mockEnqueueStore implements EnqueueStore for tests.
type mockEnqueueStore struct {
	inserted    []*types.NotificationJob
	insertErr   error
	activeJob   *types.NotificationJob
	findErr     error
	findCalls   int
	// activeAfterInsert is returned by FindActiveByDedupKey after the first
	// Insert call, simulating a concurrent producer winning the race.
	activeAfterInsert *types.NotificationJob
}

func (m *mockEnqueueStore) Insert(_ context.Context, job *types.NotificationJob) error {
	m.inserted = append(m.inserted, job)
	return m.insertErr
}

func (m *mockEnqueueStore) FindActiveByDedupKey(_ context.Context, _ string) (*types.NotificationJob, error) {
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	if len(m.inserted) > 0 && m.activeAfterInsert != nil {
		return m.activeAfterInsert, nil
	}
	return m.activeJob, nil
}

func validInput() EnqueueInput {
	return EnqueueInput{
		TargetUserID:   "user_1",
		SubjectID:      "contract_9",
		SubjectVersion: 1,
		Type:           types.JobTypeContractMatch,
		Priority:       50,
		MaxRetries:     3,
	}
}

func newTestEnqueuer(store *mockEnqueueStore) *Enqueuer {
	return NewEnqueuer(store, testClock{now: testNow}, testLogger{}, 3)
}

func TestEnqueue_InsertsPendingJob(t *testing.T) {
	store := &mockEnqueueStore{}
	e := newTestEnqueuer(store)

	res, err := e.Enqueue(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if res.Duplicate {
		t.Error("expected new job, got duplicate")
	}
	if !strings.HasPrefix(res.JobID, "job_") {
		t.Errorf("expected job_ prefixed ID, got %q", res.JobID)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}

	job := store.inserted[0]
	if job.Status != types.JobStatusPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if !job.ScheduledAt.Equal(testNow) {
		t.Errorf("expected scheduled_at now, got %v", job.ScheduledAt)
	}
	if job.DedupKey == "" {
		t.Error("expected dedup key to be set")
	}
	if job.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", job.RetryCount)
	}
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*EnqueueInput)
		wantCode types.ErrorCode
	}{
		{"missing target", func(in *EnqueueInput) { in.TargetUserID = "" }, types.ErrCodeValidationMissingField},
		{"missing subject", func(in *EnqueueInput) { in.SubjectID = "" }, types.ErrCodeValidationMissingField},
		{"missing type", func(in *EnqueueInput) { in.Type = "" }, types.ErrCodeValidationMissingField},
		{"unknown type", func(in *EnqueueInput) { in.Type = "carrier_pigeon" }, types.ErrCodeValidationInvalidType},
		{"negative priority", func(in *EnqueueInput) { in.Priority = -1 }, types.ErrCodeValidationInvalidValue},
		{"negative retries", func(in *EnqueueInput) { in.MaxRetries = -2 }, types.ErrCodeValidationInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockEnqueueStore{}
			e := newTestEnqueuer(store)

			in := validInput()
			tt.mutate(&in)

			_, err := e.Enqueue(context.Background(), in)
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, appErr.Code)
			}
			if len(store.inserted) != 0 {
				t.Error("invalid input must not reach the store")
			}
		})
	}
}

func TestEnqueue_DuplicateResolvesToExistingJob(t *testing.T) {
	store := &mockEnqueueStore{
		activeJob: &types.NotificationJob{ID: "job_existing", Status: types.JobStatusPending},
	}
	e := newTestEnqueuer(store)

	res, err := e.Enqueue(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !res.Duplicate {
		t.Error("expected duplicate result")
	}
	if res.JobID != "job_existing" {
		t.Errorf("expected existing job ID, got %q", res.JobID)
	}
	if len(store.inserted) != 0 {
		t.Error("duplicate must not insert a new job")
	}
}

func TestEnqueue_InsertRaceResolvesToWinner(t *testing.T) {
	store := &mockEnqueueStore{
		insertErr:         types.NewAppError(types.ErrCodeConflictDuplicate, "dedup key exists", nil),
		activeAfterInsert: &types.NotificationJob{ID: "job_winner", Status: types.JobStatusProcessing},
	}
	e := newTestEnqueuer(store)

	res, err := e.Enqueue(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !res.Duplicate {
		t.Error("expected duplicate result after insert race")
	}
	if res.JobID != "job_winner" {
		t.Errorf("expected winner job ID, got %q", res.JobID)
	}
}

func TestEnqueue_Defaults(t *testing.T) {
	store := &mockEnqueueStore{}
	e := newTestEnqueuer(store)

	in := validInput()
	in.MaxRetries = 0

	if _, err := e.Enqueue(context.Background(), in); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := store.inserted[0]
	if job.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", job.MaxRetries)
	}
}

func TestEnqueue_PriorityZeroStoredAsGiven(t *testing.T) {
	store := &mockEnqueueStore{}
	e := newTestEnqueuer(store)

	in := validInput()
	in.Priority = 0

	if _, err := e.Enqueue(context.Background(), in); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if got := store.inserted[0].Priority; got != 0 {
		t.Errorf("expected priority 0 to be stored, got %d", got)
	}
}

func TestEnqueue_DedupLookupErrorPropagates(t *testing.T) {
	store := &mockEnqueueStore{findErr: errors.New("connection refused")}
	e := newTestEnqueuer(store)

	_, err := e.Enqueue(context.Background(), validInput())
	if err == nil {
		t.Fatal("expected error from dedup lookup failure")
	}
}

func TestDedupKey_Deterministic(t *testing.T) {
	a := DedupKey("user_1", "contract_9", 2, types.JobTypeContractMatch)
	b := DedupKey("user_1", "contract_9", 2, types.JobTypeContractMatch)
	if a != b {
		t.Errorf("same tuple produced different keys: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars (blake2b-256), got %d", len(a))
	}
}

func TestDedupKey_DistinctTuples(t *testing.T) {
	base := DedupKey("user_1", "contract_9", 2, types.JobTypeContractMatch)

	variants := []string{
		DedupKey("user_2", "contract_9", 2, types.JobTypeContractMatch),
		DedupKey("user_1", "contract_8", 2, types.JobTypeContractMatch),
		DedupKey("user_1", "contract_9", 3, types.JobTypeContractMatch),
		DedupKey("user_1", "contract_9", 2, types.JobTypeDeadlineReminder),
		// Concatenation ambiguity: field boundaries must matter.
		DedupKey("user_1c", "ontract_9", 2, types.JobTypeContractMatch),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base key", i)
		}
	}
}
