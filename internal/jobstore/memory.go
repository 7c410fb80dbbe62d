package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cascade/internal/models"
)

// Memory is an in-process JobStore backed by a map, used by tests and by
// deployments small enough to not need Postgres (spec's Postgres
// dependency is named for the durable case, not mandated for every
// deployment shape).
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*models.BulkJob
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*models.BulkJob)}
}

func (m *Memory) CreateJob(ctx context.Context, job *models.BulkJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.Results = make([]*models.VerificationResult, job.Total)
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*models.BulkJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snap := job.Snapshot()
	return &snap, nil
}

func (m *Memory) WriteResult(ctx context.Context, jobID string, index int, result *models.VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if index < 0 || index >= len(job.Results) {
		return fmt.Errorf("result index %d out of range for job %s (total %d)", index, jobID, job.Total)
	}
	if job.Results[index] == nil {
		job.Processed++
	}
	job.Results[index] = result
	return nil
}

func (m *Memory) MarkCompleted(ctx context.Context, jobID string) error {
	return m.setStatus(jobID, models.JobCompleted)
}

func (m *Memory) MarkFailed(ctx context.Context, jobID string) error {
	return m.setStatus(jobID, models.JobFailed)
}

func (m *Memory) MarkCancelled(ctx context.Context, jobID string) error {
	return m.setStatus(jobID, models.JobCancelled)
}

func (m *Memory) setStatus(jobID string, status models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	job.Status = status
	job.CompletedAt = time.Now()
	return nil
}
