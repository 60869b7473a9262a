//
// Copyright © 2017 Solus Project
//

// Package queue implements the durable job queue: the JobRecord state
// machine, the FIFO pending sequence, and the claim protocol that a
// processor uses to take ownership of exactly one job at a time. It is the
// direct descendant of ferryd's jobs.JobEntry/JobStore pair, generalized
// from a fixed set of package-management job types to an arbitrary
// task-name/input-blob pair, and from boltdb's single-writer locking to the
// optimistic-concurrency store.Tx contract the rest of this module expects.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/solus-project/ferryq/internal/store"
)

// Status is the current position of a JobRecord in its lifecycle.
type Status string

const (
	// StatusQueued means the job is waiting in the pending sequence.
	StatusQueued Status = "QUEUED"

	// StatusClaimed means a processor has taken ownership but has not yet
	// started running the task.
	StatusClaimed Status = "CLAIMED"

	// StatusProcessing means the task is actively executing.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted means the task returned a result.
	StatusCompleted Status = "COMPLETED"

	// StatusError means the task raised, no task was registered under the
	// job's taskName, or the task aborted its transaction.
	StatusError Status = "ERROR"

	// StatusCancelled means the job was cancelled before a processor ever
	// claimed it.
	StatusCancelled Status = "CANCELLED"
)

const (
	bucketJobs = "jobs"
	bucketMeta = "meta"
	keyPending = "pending"
)

// Record is the durable state of a single job.
type Record struct {
	ID       string
	TaskName string
	Input    []byte
	Status   Status
	Output   []byte

	CreatedAt   time.Time
	ClaimedAt   time.Time
	CompletedAt time.Time

	Owner string
}

// pendingList is stored as a single gob-encoded value under bucketMeta so
// that claims and enqueues both observe and mutate it as one unit; this is
// precisely what gives claimNext its FIFO ordering and what makes
// concurrent claims race, as the design intends.
type pendingList struct {
	IDs []string
}

func newJobID() string {
	return uuid.NewString()
}
