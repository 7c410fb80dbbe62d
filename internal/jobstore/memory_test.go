package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cascade/internal/models"
)

func TestMemoryWriteResultOutOfOrderStillCountsProcessed(t *testing.T) {
	m := NewMemory()
	job := &models.BulkJob{ID: "job-1", OwnerID: "alice", Status: models.JobProcessing, Total: 3, CreatedAt: time.Now()}
	if err := m.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := m.WriteResult(context.Background(), "job-1", 2, &models.VerificationResult{Email: "c@example.com"}); err != nil {
		t.Fatalf("WriteResult(2): %v", err)
	}
	if err := m.WriteResult(context.Background(), "job-1", 0, &models.VerificationResult{Email: "a@example.com"}); err != nil {
		t.Fatalf("WriteResult(0): %v", err)
	}

	got, err := m.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Processed != 2 {
		t.Errorf("Processed = %d, want 2", got.Processed)
	}
	if got.Results[0] == nil || got.Results[0].Email != "a@example.com" {
		t.Errorf("Results[0] = %v, want a@example.com", got.Results[0])
	}
	if got.Results[1] != nil {
		t.Errorf("Results[1] = %v, want nil (still in flight)", got.Results[1])
	}
	if got.Results[2] == nil || got.Results[2].Email != "c@example.com" {
		t.Errorf("Results[2] = %v, want c@example.com", got.Results[2])
	}
}

func TestMemoryGetJobUnknownID(t *testing.T) {
	m := NewMemory()
	_, err := m.GetJob(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob() = %v, want ErrNotFound", err)
	}
}

func TestMemoryMarkCompleted(t *testing.T) {
	m := NewMemory()
	job := &models.BulkJob{ID: "job-2", OwnerID: "alice", Status: models.JobProcessing, Total: 1, CreatedAt: time.Now()}
	m.CreateJob(context.Background(), job)

	if err := m.MarkCompleted(context.Background(), "job-2"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ := m.GetJob(context.Background(), "job-2")
	if got.Status != models.JobCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set after MarkCompleted")
	}
}
