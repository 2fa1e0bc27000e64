// Package queue implements the durable, priority-ordered job store. Jobs are
// delivered at least once: a worker leases a job under a time-bounded lock,
// and the stall sweep recovers jobs whose lock expired without completion.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

var (
	// ErrNotFound is returned when a job does not exist or is already terminal.
	ErrNotFound = errors.New("queue: job not found")
	// ErrStaleLock is returned when an operation carries a lock token that no
	// longer matches the job, meaning the lease was lost.
	ErrStaleLock = errors.New("queue: stale lock token")
)

// JobRecord is the queue-internal wrapper around a job payload.
type JobRecord struct {
	ID            string
	Job           types.TranscriptionJob
	Priority      int
	State         string
	AttemptsMade  int
	MaxAttempts   int
	StalledCount  int
	LockToken     string
	LockExpiresAt time.Time
}

// Stats counts jobs per state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// StatusInfo is the externally visible state of one job.
type StatusInfo struct {
	State        string                        `json:"state"`
	AttemptsMade int                           `json:"attempts_made"`
	Result       *types.TranscriptionJobResult `json:"result,omitempty"`
	FailedReason string                        `json:"failed_reason,omitempty"`
}

// Queue is the job store contract. Any implementation must guarantee
// at-most-one active lease per job and never lose a non-terminal job.
type Queue interface {
	// Enqueue inserts a job in waiting state and returns its job ID.
	Enqueue(ctx context.Context, job types.TranscriptionJob) (string, error)

	// Lease atomically hands the lowest-priority eligible waiting job to the
	// caller under a fresh lock. Returns nil when no job is eligible or the
	// queue is paused.
	Lease(ctx context.Context, workerID string, lockDuration time.Duration) (*JobRecord, error)

	// RenewLock extends the lock of an active job. ErrStaleLock means the
	// lease was lost and the caller must stop reporting on this job.
	RenewLock(ctx context.Context, jobID, lockToken string, extension time.Duration) error

	// Complete transitions an active job to completed. Rejected with
	// ErrStaleLock if the token no longer matches.
	Complete(ctx context.Context, jobID, lockToken string, result *types.TranscriptionJobResult) error

	// Fail records a failed attempt. Retryable failures with attempts
	// remaining go back to delayed with exponential backoff; everything else
	// is terminal.
	Fail(ctx context.Context, jobID, lockToken, reason string, retryable bool) error

	// RequeueStalled recovers active jobs whose lock expired. Returns how
	// many were requeued and how many were forced to failed.
	RequeueStalled(ctx context.Context) (requeued, failed int, err error)

	Stats(ctx context.Context) (Stats, error)
	JobStatus(ctx context.Context, jobID string) (*StatusInfo, error)

	// Remove deletes a waiting, delayed or active job. Removing an active job
	// invalidates its lock so late Complete/Fail calls are rejected.
	Remove(ctx context.Context, jobID string) error

	Pause()
	Resume()
	Paused() bool
}
