package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cascade/internal/ledger"
	"cascade/internal/models"
	"cascade/internal/queue"
)

// queuedJob tracks the outstanding work for one bulk job submitted
// through the Redis-backed transport, so the last queue worker to finish
// a job's tasks can settle its ledger reservation exactly once.
type queuedJob struct {
	mu        sync.Mutex
	token     ledger.Token
	total     int
	remaining int
	cancelled bool
}

// UseQueue switches SubmitBulk onto the Redis-backed transport: instead
// of spawning an in-process worker pool, jobs are enqueued for any
// process running StartQueueWorkers to pick up. Grounded on the
// teacher's separation between its API process (enqueues) and its
// worker process (BLPop-consumes) in cmd/worker/main.go.
func (e *Engine) UseQueue(q BulkQueue) {
	e.queue = q
}

// StartQueueWorkers launches n goroutines pulling tasks from the queue
// until ctx is cancelled. Call this from the process that should do the
// actual probing — in the teacher's split-process layout this is the
// worker binary, not the API binary that calls SubmitBulk.
func (e *Engine) StartQueueWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go e.queueWorkerLoop(ctx)
	}
}

func (e *Engine) queueWorkerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := e.queue.Dequeue(ctx, 2*time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		e.processQueuedTask(ctx, task)
	}
}

func (e *Engine) enqueueBulk(ctx context.Context, job *models.BulkJob, token ledger.Token, emails []string) error {
	e.queueMu.Lock()
	e.queueJobs[job.ID] = &queuedJob{token: token, total: len(emails), remaining: len(emails)}
	e.queueMu.Unlock()

	if err := e.queue.EnqueueBatch(ctx, job.ID, emails); err != nil {
		e.queueMu.Lock()
		delete(e.queueJobs, job.ID)
		e.queueMu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) processQueuedTask(ctx context.Context, task queue.Task) {
	e.queueMu.Lock()
	qj, ok := e.queueJobs[task.JobID]
	e.queueMu.Unlock()
	if !ok {
		return
	}

	qj.mu.Lock()
	cancelled := qj.cancelled
	qj.mu.Unlock()

	var result *models.VerificationResult
	if cancelled {
		result = errorResult(task.Email, errors.New("job cancelled before this address was processed"))
	} else {
		result = e.cascadeRecovered(ctx, task.Email)
	}
	result.CreditsUsed = 1

	_ = e.store.WriteResult(context.Background(), task.JobID, task.Index, result)

	e.completeQueuedTask(task.JobID)
}

func (e *Engine) completeQueuedTask(jobID string) {
	e.queueMu.Lock()
	qj, ok := e.queueJobs[jobID]
	if !ok {
		e.queueMu.Unlock()
		return
	}

	qj.mu.Lock()
	qj.remaining--
	remaining := qj.remaining
	cancelled := qj.cancelled
	token := qj.token
	total := qj.total
	qj.mu.Unlock()

	if remaining <= 0 {
		delete(e.queueJobs, jobID)
	}
	e.queueMu.Unlock()

	if remaining <= 0 {
		e.settleJob(context.Background(), jobID, token, total, cancelled)
	}
}

func (e *Engine) cancelQueuedJob(jobID string) error {
	e.queueMu.Lock()
	qj, ok := e.queueJobs[jobID]
	e.queueMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s (not running)", ErrJobNotFound, jobID)
	}
	qj.mu.Lock()
	qj.cancelled = true
	qj.mu.Unlock()
	return nil
}
