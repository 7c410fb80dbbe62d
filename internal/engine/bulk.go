package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cascade/internal/ledger"
	"cascade/internal/models"
)

// MaxBulk is spec §4.8's hard ceiling on a single bulk submission, applied
// after deduplication. A caller that legitimately needs more addresses
// processed submits multiple batches.
const MaxBulk = 100_000

// jobRegistry tracks the cancel functions for in-flight bulk jobs so
// CancelJob can reach a running executor by ID. Grounded on the
// teacher's quit-channel/context-cancellation shutdown idiom in
// cmd/worker/main.go, scoped per-job instead of process-wide.
type jobRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *jobRegistry) register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

func (r *jobRegistry) cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (r *jobRegistry) unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

// dedupeEmails collapses case-insensitively duplicate addresses, keeping
// the first-seen original-cased spelling and input order, per spec §4.8
// ("[A@x, a@x, B@x] becomes [A@x, B@x]").
func dedupeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		key := strings.ToLower(strings.TrimSpace(e))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SubmitBulk reserves total-length credits from owner, creates a job
// record, and starts a bounded worker pool processing it in the
// background. It returns immediately with the queued job; callers poll
// GetJob for progress, per spec §6's incremental-progress requirement.
func (e *Engine) SubmitBulk(ctx context.Context, owner string, emails []string) (*models.BulkJob, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: at least one address is required", ErrInvalidInput)
	}

	emails = dedupeEmails(emails)
	if len(emails) > MaxBulk {
		return nil, fmt.Errorf("%w: batch size %d exceeds MAX_BULK (%d)", ErrInvalidInput, len(emails), MaxBulk)
	}

	total := len(emails)
	token, err := e.ledger.Reserve(ctx, owner, total)
	if err != nil {
		return nil, fmt.Errorf("reserve credits for bulk job: %w", err)
	}

	job := &models.BulkJob{
		ID:        newJobID(),
		OwnerID:   owner,
		Status:    models.JobQueued,
		Total:     total,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		if refundErr := e.ledger.Refund(ctx, token, 0); refundErr != nil {
			return nil, fmt.Errorf("create job failed (%v) and refund failed: %w", err, refundErr)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	if e.queue != nil {
		if err := e.enqueueBulk(ctx, job, token, emails); err != nil {
			if refundErr := e.ledger.Refund(ctx, token, 0); refundErr != nil {
				return nil, fmt.Errorf("enqueue failed (%v) and refund failed: %w", err, refundErr)
			}
			_ = e.store.MarkFailed(ctx, job.ID)
			return nil, fmt.Errorf("enqueue bulk job: %w", err)
		}
		return job, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.jobs.register(job.ID, cancel)

	go e.runBulk(runCtx, job.ID, token, emails)

	return job, nil
}

// errorResult converts a cascade failure (error or recovered panic) into
// a fully-populated VerificationResult instead of dropping the address,
// per spec §4.8's "per-address errors never fail the job" rule.
func errorResult(rawEmail string, cause error) *models.VerificationResult {
	result := models.NewPendingResult(rawEmail)
	result.FinalStatus = models.StatusError
	result.Reason = cause.Error()
	result.Timestamp = time.Now()
	return &result
}

// cascadeRecovered runs the cascade for one address, converting both a
// returned error and a recovered panic into a StatusError result so the
// caller always gets exactly one result back, never a dropped index.
func (e *Engine) cascadeRecovered(ctx context.Context, rawEmail string) (result *models.VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = errorResult(rawEmail, fmt.Errorf("probe panic: %v", r))
		}
	}()

	res, err := e.cascade(ctx, rawEmail)
	if err != nil {
		return errorResult(rawEmail, err)
	}
	return res
}

// runBulk drives the bounded worker pool for one bulk job: addresses are
// fanned out to WorkerConcurrency workers, results are buffered and
// flushed to the job store on the K/T policy, and the reservation is
// settled (committed for work done, refunded for work never reached) once
// every address has been processed or the job is cancelled.
func (e *Engine) runBulk(ctx context.Context, jobID string, token ledger.Token, emails []string) {
	defer e.jobs.unregister(jobID)

	type indexed struct {
		index int
		email string
	}

	work := make(chan indexed, len(emails))
	for i, email := range emails {
		work <- indexed{index: i, email: email}
	}
	close(work)

	type completed struct {
		index  int
		result *models.VerificationResult
	}
	results := make(chan completed, len(emails))

	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 || concurrency > len(emails) {
		concurrency = len(emails)
	}
	if concurrency == 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for w := 0; w < concurrency; w++ {
		go func() {
			defer wg.Done()
			for item := range work {
				if ctx.Err() != nil {
					return
				}
				result := e.cascadeRecovered(ctx, item.email)
				result.CreditsUsed = 1
				select {
				case results <- completed{index: item.index, result: result}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	flushBatchSize := e.cfg.FlushEvery
	if flushBatchSize <= 0 {
		flushBatchSize = 10
	}
	flushInterval := e.cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}

	processed := 0
	buffer := make([]completed, 0, flushBatchSize)
	flush := func() {
		for _, c := range buffer {
			if err := e.store.WriteResult(context.Background(), jobID, c.index, c.result); err != nil {
				continue
			}
		}
		buffer = buffer[:0]
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

drain:
	for {
		select {
		case c, ok := <-results:
			if !ok {
				break drain
			}
			buffer = append(buffer, c)
			processed++
			if len(buffer) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
	flush()

	wasCancelled := ctx.Err() != nil
	e.settleJob(context.Background(), jobID, token, processed, wasCancelled)
}

// settleJob commits the ledger reservation for processed addresses and
// marks the job's terminal state. Shared between the in-process worker
// pool and the queue-backed transport so both settle identically.
func (e *Engine) settleJob(ctx context.Context, jobID string, token ledger.Token, processed int, wasCancelled bool) {
	if err := e.ledger.Commit(ctx, token, processed); err != nil {
		_ = e.store.MarkFailed(ctx, jobID)
		return
	}

	if wasCancelled {
		_ = e.store.MarkCancelled(ctx, jobID)
		return
	}
	_ = e.store.MarkCompleted(ctx, jobID)
}

// GetJob returns a snapshot of jobID's current state.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*models.BulkJob, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// CancelJob interrupts a running bulk job. In-flight probes are allowed
// to finish naturally (their context is cancelled, so they return
// quickly); already-committed credits for completed work are kept, and
// the unprocessed remainder is refunded once the executor observes the
// cancellation, per spec §6's "partial progress is preserved" note.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	if ok := e.jobs.cancel(jobID); !ok {
		return e.cancelQueuedJob(jobID)
	}
	return nil
}
