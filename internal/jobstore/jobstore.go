// Package jobstore persists bulk verification jobs and their per-address
// results, per spec §4.8/§6. Grounded on the teacher's internal/store/db.go
// pgxpool migrations (jobs/results tables), extended with an explicit
// result_index column so results can be written out of arrival order by a
// bounded worker pool and still be read back in input order (spec §5's
// "index-buffered output ordering").
package jobstore

import (
	"context"
	"errors"

	"cascade/internal/models"
)

// ErrNotFound is returned when a job ID is not present in the store.
var ErrNotFound = errors.New("job not found")

// JobStore is the persistence boundary the engine writes through. A
// Postgres-backed implementation (PG) and an in-memory one (Memory) both
// satisfy it, so tests and small deployments never need a database.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.BulkJob) error
	GetJob(ctx context.Context, id string) (*models.BulkJob, error)
	WriteResult(ctx context.Context, jobID string, index int, result *models.VerificationResult) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string) error
	MarkCancelled(ctx context.Context, jobID string) error
}
