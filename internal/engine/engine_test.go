package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cascade/internal/config"
	"cascade/internal/jobstore"
	"cascade/internal/ledger"
	"cascade/internal/models"
	"cascade/internal/queue"
)

// fakeQueue is an in-memory BulkQueue stand-in so queue-mode bulk
// submission can be exercised without a live Redis instance.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *fakeQueue) EnqueueBatch(ctx context.Context, jobID string, emails []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, email := range emails {
		q.tasks = append(q.tasks, queue.Task{JobID: jobID, Index: i, Email: email})
	}
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, error) {
	q.mu.Lock()
	if len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		return task, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(timeout):
		return queue.Task{}, queue.ErrEmpty
	case <-ctx.Done():
		return queue.Task{}, ctx.Err()
	}
}

func testEngine(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	l := ledger.NewMemory()
	l.Grant("alice", 1000)
	store := jobstore.NewMemory()
	e := New(config.Config{WorkerConcurrency: 4}, l, store)
	return e, l
}

func TestVerifyOneInvalidSyntaxNeverTouchesDNS(t *testing.T) {
	e, l := testEngine(t)

	result, err := e.VerifyOne(context.Background(), "alice", "not-an-email")
	if err != nil {
		t.Fatalf("VerifyOne: %v", err)
	}
	if result.FinalStatus != models.StatusInvalidSyntax {
		t.Errorf("FinalStatus = %q, want invalid_syntax", result.FinalStatus)
	}
	if got := l.Balance("alice"); got != 999 {
		t.Errorf("Balance() = %d, want 999 (one credit committed for the attempt)", got)
	}
}

func TestVerifyOneDisposableShortCircuits(t *testing.T) {
	e, _ := testEngine(t)

	result, err := e.VerifyOne(context.Background(), "alice", "user@mailinator.com")
	if err != nil {
		t.Fatalf("VerifyOne: %v", err)
	}
	if result.FinalStatus != models.StatusDisposable {
		t.Errorf("FinalStatus = %q, want disposable", result.FinalStatus)
	}
	if result.SpamRisk != models.SpamRiskHigh {
		t.Errorf("SpamRisk = %q, want high", result.SpamRisk)
	}
}

func TestVerifyOneInsufficientCredits(t *testing.T) {
	e, l := testEngine(t)
	l.Grant("broke", 0)

	_, err := e.VerifyOne(context.Background(), "broke", "user@example.com")
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("VerifyOne() error = %v, want ErrInsufficientCredits", err)
	}
}

func TestVerifyOneRequiresOwnerAndEmail(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.VerifyOne(context.Background(), "", "user@example.com"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing owner: err = %v, want ErrInvalidInput", err)
	}
	if _, err := e.VerifyOne(context.Background(), "alice", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing email: err = %v, want ErrInvalidInput", err)
	}
}

func TestSubmitBulkAllDisposableAddressesSettleQuickly(t *testing.T) {
	e, l := testEngine(t)

	emails := []string{"a@mailinator.com", "b@mailinator.com", "c@mailinator.com"}
	job, err := e.SubmitBulk(context.Background(), "alice", emails)
	if err != nil {
		t.Fatalf("SubmitBulk: %v", err)
	}
	if job.Total != 3 {
		t.Fatalf("Total = %d, want 3", job.Total)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == models.JobCompleted {
			if got.Processed != 3 {
				t.Errorf("Processed = %d, want 3", got.Processed)
			}
			for i, r := range got.Results {
				if r == nil {
					t.Errorf("Results[%d] is nil on a completed job", i)
					continue
				}
				if r.FinalStatus != models.StatusDisposable {
					t.Errorf("Results[%d].FinalStatus = %q, want disposable", i, r.FinalStatus)
				}
			}
			if got := l.Balance("alice"); got != 997 {
				t.Errorf("Balance() = %d, want 997 (3 credits committed)", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not complete within 5s")
}

func TestSubmitBulkRequiresAddresses(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.SubmitBulk(context.Background(), "alice", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCancelJobUnknownID(t *testing.T) {
	e, _ := testEngine(t)
	if err := e.CancelJob(context.Background(), "bogus"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CancelJob() = %v, want ErrJobNotFound", err)
	}
}

func TestSubmitBulkDeduplicatesCaseInsensitively(t *testing.T) {
	e, l := testEngine(t)

	emails := []string{"A@mailinator.com", "a@mailinator.com", "B@mailinator.com"}
	job, err := e.SubmitBulk(context.Background(), "alice", emails)
	if err != nil {
		t.Fatalf("SubmitBulk: %v", err)
	}
	if job.Total != 2 {
		t.Fatalf("Total = %d, want 2 (duplicate collapsed)", job.Total)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == models.JobCompleted {
			if got.Processed != 2 {
				t.Errorf("Processed = %d, want 2", got.Processed)
			}
			if got := l.Balance("alice"); got != 998 {
				t.Errorf("Balance() = %d, want 998 (2 credits committed, not 3)", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not complete within 5s")
}

func TestSubmitBulkRejectsBatchOverMaxBulk(t *testing.T) {
	e, _ := testEngine(t)

	emails := make([]string, MaxBulk+1)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@mailinator.com", i)
	}

	if _, err := e.SubmitBulk(context.Background(), "alice", emails); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SubmitBulk() error = %v, want ErrInvalidInput", err)
	}
}

func TestDedupeEmailsKeepsFirstSeenCasing(t *testing.T) {
	got := dedupeEmails([]string{"A@x.com", "a@x.com", "B@x.com"})
	want := []string{"A@x.com", "B@x.com"}
	if len(got) != len(want) {
		t.Fatalf("dedupeEmails() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dedupeEmails()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCascadeRecoveredNeverReturnsNil(t *testing.T) {
	e, _ := testEngine(t)

	result := e.cascadeRecovered(context.Background(), "user@example.com")
	if result == nil {
		t.Fatal("cascadeRecovered() = nil, want a populated result")
	}
}

func TestCascadeRecoveredConvertsCancelledContextToErrorResult(t *testing.T) {
	e, _ := testEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := e.cascadeRecovered(ctx, "user@example.com")
	if result.FinalStatus != models.StatusError {
		t.Errorf("FinalStatus = %q, want error", result.FinalStatus)
	}
	if result.Reason == "" {
		t.Error("Reason is empty, want the cancellation error text")
	}
}

func TestSubmitBulkViaQueueSettlesOnceWorkersDrainIt(t *testing.T) {
	e, l := testEngine(t)
	fq := &fakeQueue{}
	e.UseQueue(fq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartQueueWorkers(ctx, 2)

	emails := []string{"a@mailinator.com", "b@mailinator.com", "c@mailinator.com"}
	job, err := e.SubmitBulk(context.Background(), "alice", emails)
	if err != nil {
		t.Fatalf("SubmitBulk: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == models.JobCompleted {
			if got.Processed != 3 {
				t.Errorf("Processed = %d, want 3", got.Processed)
			}
			for i, r := range got.Results {
				if r == nil {
					t.Errorf("Results[%d] is nil on a completed job", i)
				}
			}
			if got := l.Balance("alice"); got != 997 {
				t.Errorf("Balance() = %d, want 997 (3 credits committed)", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queue-backed job did not complete within 5s")
}

func TestErrorResultProducesStatusError(t *testing.T) {
	result := errorResult("user@example.com", errors.New("boom"))
	if result.FinalStatus != models.StatusError {
		t.Errorf("FinalStatus = %q, want error", result.FinalStatus)
	}
	if result.Reason != "boom" {
		t.Errorf("Reason = %q, want %q", result.Reason, "boom")
	}
}
