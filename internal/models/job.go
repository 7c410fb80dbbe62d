package models

import "time"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// BulkJob is the durable record of one bulk-verification run. The executor
// is the only writer while the job is queued/processing; once Status is
// JobCompleted neither Results nor Processed changes again (spec §3).
type BulkJob struct {
	ID      string
	OwnerID string
	Status  JobStatus

	Total     int
	Processed int

	// Results is pre-sized to Total and filled by input index, so readers
	// taking a snapshot mid-run see completed slots in input order and
	// zero-value slots for work still in flight.
	Results []*VerificationResult

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Snapshot returns a shallow copy safe for a reader to hold onto: the
// Results slice header is copied so a subsequent append-in-place by the
// executor (there isn't one — results are written by index, never
// appended) can never race with a reader ranging over it.
func (j *BulkJob) Snapshot() BulkJob {
	cp := *j
	cp.Results = make([]*VerificationResult, len(j.Results))
	copy(cp.Results, j.Results)
	return cp
}

// CatchAllState is the tri-state catch-all status held in a
// DomainCacheEntry.
type CatchAllState string

const (
	CatchAllTrue    CatchAllState = "true"
	CatchAllFalse   CatchAllState = "false"
	CatchAllUnknown CatchAllState = "unknown"
)

// DomainCacheEntry is the memoized per-domain verdict held by the domain
// cache: classifier tag plus tri-state catch-all status, per spec §3.
type DomainCacheEntry struct {
	Domain      string
	Provider    ProviderTag
	CatchAll    CatchAllState
	ObservedAt  time.Time
	TTL         time.Duration
}

// Expired reports whether this entry should be treated as a cache miss.
func (e DomainCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ObservedAt.Add(e.TTL))
}
