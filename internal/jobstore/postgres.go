package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cascade/internal/models"
)

// PG is the durable JobStore backing production bulk jobs, grounded on
// the teacher's store.Init/runMigrations. The teacher stored only a job_id
// + email + score + raw JSON per result row; this adds a result_index
// column (spec §5's ordering requirement, which the teacher's append-only
// worker loop never needed because it processed one queue at a time) and
// an owner_id column (spec §6's per-owner credit ledger needs to attribute
// a job to its owner when listing jobs).
type PG struct {
	pool *pgxpool.Pool
}

// NewPG connects to Postgres and runs migrations, mirroring the teacher's
// store.Init(connString) two-step connect-then-migrate flow.
func NewPG(ctx context.Context, connString string) (*PG, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	pg := &PG{pool: pool}
	if err := pg.runMigrations(connectCtx); err != nil {
		return nil, err
	}
	return pg, nil
}

func (p *PG) Close() {
	p.pool.Close()
}

func (p *PG) runMigrations(ctx context.Context) error {
	queryJobs := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMP DEFAULT NOW(),
		completed_at TIMESTAMP
	);`

	queryResults := `
	CREATE TABLE IF NOT EXISTS results (
		job_id TEXT NOT NULL REFERENCES jobs(id),
		result_index INT NOT NULL,
		email TEXT NOT NULL,
		score INT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (job_id, result_index)
	);`

	if _, err := p.pool.Exec(ctx, queryJobs); err != nil {
		return fmt.Errorf("migration failed (jobs): %w", err)
	}
	if _, err := p.pool.Exec(ctx, queryResults); err != nil {
		return fmt.Errorf("migration failed (results): %w", err)
	}
	return nil
}

func (p *PG) CreateJob(ctx context.Context, job *models.BulkJob) error {
	const q = `INSERT INTO jobs (id, owner_id, status, total_count, processed_count, created_at)
	           VALUES ($1, $2, $3, $4, 0, $5)`
	_, err := p.pool.Exec(ctx, q, job.ID, job.OwnerID, job.Status, job.Total, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	job.Results = make([]*models.VerificationResult, job.Total)
	return nil
}

func (p *PG) GetJob(ctx context.Context, id string) (*models.BulkJob, error) {
	const jobQ = `SELECT id, owner_id, status, total_count, processed_count, created_at, completed_at
	              FROM jobs WHERE id = $1`

	var job models.BulkJob
	var completedAt *time.Time
	row := p.pool.QueryRow(ctx, jobQ, id)
	if err := row.Scan(&job.ID, &job.OwnerID, &job.Status, &job.Total, &job.Processed, &job.CreatedAt, &completedAt); err != nil {
		if errIsNoRows(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if completedAt != nil {
		job.CompletedAt = *completedAt
	}

	job.Results = make([]*models.VerificationResult, job.Total)

	const resultsQ = `SELECT result_index, data FROM results WHERE job_id = $1`
	rows, err := p.pool.Query(ctx, resultsQ, id)
	if err != nil {
		return nil, fmt.Errorf("load results for job %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var raw []byte
		if err := rows.Scan(&idx, &raw); err != nil {
			return nil, fmt.Errorf("scan result row for job %s: %w", id, err)
		}
		var result models.VerificationResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode result row for job %s: %w", id, err)
		}
		if idx >= 0 && idx < len(job.Results) {
			job.Results[idx] = &result
		}
	}
	return &job, rows.Err()
}

func (p *PG) WriteResult(ctx context.Context, jobID string, index int, result *models.VerificationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for job %s index %d: %w", jobID, index, err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for job %s: %w", jobID, err)
	}
	defer tx.Rollback(ctx)

	const insertQ = `INSERT INTO results (job_id, result_index, email, score, data)
	                 VALUES ($1, $2, $3, $4, $5)
	                 ON CONFLICT (job_id, result_index) DO UPDATE SET data = EXCLUDED.data, score = EXCLUDED.score`
	if _, err := tx.Exec(ctx, insertQ, jobID, index, result.Email, result.SafetyScore, data); err != nil {
		return fmt.Errorf("insert result for job %s index %d: %w", jobID, index, err)
	}

	const updateQ = `UPDATE jobs SET processed_count = processed_count + 1 WHERE id = $1`
	if _, err := tx.Exec(ctx, updateQ, jobID); err != nil {
		return fmt.Errorf("increment processed_count for job %s: %w", jobID, err)
	}

	return tx.Commit(ctx)
}

func (p *PG) MarkCompleted(ctx context.Context, jobID string) error {
	return p.setStatus(ctx, jobID, models.JobCompleted)
}

func (p *PG) MarkFailed(ctx context.Context, jobID string) error {
	return p.setStatus(ctx, jobID, models.JobFailed)
}

func (p *PG) MarkCancelled(ctx context.Context, jobID string) error {
	return p.setStatus(ctx, jobID, models.JobCancelled)
}

func (p *PG) setStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	const q = `UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3`
	tag, err := p.pool.Exec(ctx, q, status, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("update status for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

func errIsNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
