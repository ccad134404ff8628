package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tenderwatch/internal/types"
)

// mockAdminStore implements AdminStore for tests.
type mockAdminStore struct {
	resetApplied  bool
	resetErr      error
	resetID       string
	resetNow      time.Time

	cancelApplied bool
	cancelErr     error
	cancelID      string

	bulkResetN  int64
	bulkCancelN int64

	terminal      []*types.NotificationJob
	listErr       error
	listCutoff    time.Time
	deletedIDs    [][]string
	deleteErr     error
	deletedBefore time.Time
	deleteBeforeN int64
}

func (m *mockAdminStore) ResetForRetry(_ context.Context, id string, now time.Time) (bool, error) {
	m.resetID = id
	m.resetNow = now
	return m.resetApplied, m.resetErr
}

func (m *mockAdminStore) Cancel(_ context.Context, id string) (bool, error) {
	m.cancelID = id
	return m.cancelApplied, m.cancelErr
}

func (m *mockAdminStore) BulkResetFailed(_ context.Context, _ time.Time) (int64, error) {
	return m.bulkResetN, nil
}

func (m *mockAdminStore) BulkCancelPending(_ context.Context) (int64, error) {
	return m.bulkCancelN, nil
}

func (m *mockAdminStore) ListTerminalBefore(_ context.Context, cutoff time.Time, limit int) ([]*types.NotificationJob, error) {
	m.listCutoff = cutoff
	if m.listErr != nil {
		return nil, m.listErr
	}
	n := limit
	if n > len(m.terminal) {
		n = len(m.terminal)
	}
	batch := m.terminal[:n]
	m.terminal = m.terminal[n:]
	return batch, nil
}

func (m *mockAdminStore) DeleteTerminalByIDs(_ context.Context, ids []string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, ids)
	return int64(len(ids)), nil
}

func (m *mockAdminStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.deletedBefore = cutoff
	return m.deleteBeforeN, nil
}

// mockArchiver records archived batches.
type mockArchiver struct {
	batches [][]*types.NotificationJob
	err     error
}

func (m *mockArchiver) ArchiveJobs(_ context.Context, jobs []*types.NotificationJob) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, jobs)
	return nil
}

func newTestAdminOps(store *mockAdminStore, archiver Archiver) *AdminOps {
	return NewAdminOps(store, archiver, testClock{now: testNow}, testLogger{})
}

func TestAdminRetry_Applied(t *testing.T) {
	store := &mockAdminStore{resetApplied: true}
	a := newTestAdminOps(store, nil)

	applied, err := a.Retry(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !applied {
		t.Error("expected retry to apply")
	}
	if store.resetID != "job_1" {
		t.Errorf("expected reset for job_1, got %q", store.resetID)
	}
	if !store.resetNow.Equal(testNow) {
		t.Errorf("expected reset at %v, got %v", testNow, store.resetNow)
	}
}

func TestAdminRetry_NoopWhenNotFailed(t *testing.T) {
	store := &mockAdminStore{resetApplied: false}
	a := newTestAdminOps(store, nil)

	applied, err := a.Retry(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if applied {
		t.Error("expected no-op for job not in failed state")
	}
}

func TestAdminCancel(t *testing.T) {
	store := &mockAdminStore{cancelApplied: true}
	a := newTestAdminOps(store, nil)

	applied, err := a.Cancel(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !applied {
		t.Error("expected cancel to apply")
	}
}

func TestAdminBulkOperations(t *testing.T) {
	store := &mockAdminStore{bulkResetN: 7, bulkCancelN: 3}
	a := newTestAdminOps(store, nil)

	retried, err := a.BulkRetryFailed(context.Background())
	if err != nil {
		t.Fatalf("BulkRetryFailed: %v", err)
	}
	if retried != 7 {
		t.Errorf("expected 7 retried, got %d", retried)
	}

	cancelled, err := a.BulkCancelPending(context.Background())
	if err != nil {
		t.Fatalf("BulkCancelPending: %v", err)
	}
	if cancelled != 3 {
		t.Errorf("expected 3 cancelled, got %d", cancelled)
	}
}

func TestPurgeOld_RejectsNonPositiveRetention(t *testing.T) {
	a := newTestAdminOps(&mockAdminStore{}, nil)

	_, err := a.PurgeOld(context.Background(), 0)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationInvalidValue {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPurgeOld_WithoutArchiverDeletesDirectly(t *testing.T) {
	store := &mockAdminStore{deleteBeforeN: 11}
	a := newTestAdminOps(store, nil)

	deleted, err := a.PurgeOld(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}

	if deleted != 11 {
		t.Errorf("expected 11 deleted, got %d", deleted)
	}
	wantCutoff := testNow.Add(-24 * time.Hour)
	if !store.deletedBefore.Equal(wantCutoff) {
		t.Errorf("expected cutoff %v, got %v", wantCutoff, store.deletedBefore)
	}
}

func TestPurgeOld_ArchivesBeforeDeleting(t *testing.T) {
	jobs := make([]*types.NotificationJob, 3)
	for i := range jobs {
		jobs[i] = &types.NotificationJob{ID: fmt.Sprintf("job_%d", i), Status: types.JobStatusSent}
	}
	store := &mockAdminStore{terminal: jobs}
	archiver := &mockArchiver{}
	a := newTestAdminOps(store, archiver)

	deleted, err := a.PurgeOld(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}

	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}
	if len(archiver.batches) != 1 || len(archiver.batches[0]) != 3 {
		t.Fatalf("expected one archived batch of 3, got %v", archiver.batches)
	}
	if len(store.deletedIDs) != 1 {
		t.Fatalf("expected one delete batch, got %d", len(store.deletedIDs))
	}
}

func TestPurgeOld_ArchiveFailureBlocksDeletion(t *testing.T) {
	store := &mockAdminStore{terminal: []*types.NotificationJob{{ID: "job_1"}}}
	archiver := &mockArchiver{err: errors.New("disk full")}
	a := newTestAdminOps(store, archiver)

	_, err := a.PurgeOld(context.Background(), 24*time.Hour)
	if err == nil {
		t.Fatal("expected error when archival fails")
	}
	if len(store.deletedIDs) != 0 {
		t.Error("jobs must not be deleted when archival failed")
	}
}
