//
// Copyright © 2017 Solus Project
//

package queue

import (
	"errors"
	"time"

	"github.com/solus-project/ferryq/internal/store"
)

// ErrNotFound is returned by Get when no job exists with the given id.
var ErrNotFound = errors.New("queue: job not found")

// ErrAlreadyClaimed is returned by Cancel when the job has progressed past
// QUEUED and can therefore no longer be cancelled.
var ErrAlreadyClaimed = errors.New("queue: job is no longer queued")

// defaultConflictRetries bounds the internal retry loop that Add and the
// single-shot helpers below use to ride out contention on the shared
// pending-list key. This is not the processor's own conflictRetryLimit
// (see internal/processor); it only protects these short, self-contained
// operations from transient contention with a concurrent claim.
const defaultConflictRetries = 8

// Queue is the durable, FIFO-ordered set of jobs backed by a store.Database.
// Its whole-operation methods (Add, Get, HasPending, Cancel) each run in
// their own transaction with their own retry loop. The claim/execute/commit
// cycle that a processor drives is instead built from the package-level
// functions below (ClaimNext, MarkProcessing, ...), which operate within a
// caller-supplied store.Tx so that claiming a job and running its task can
// share one transactional boundary, per the claim protocol.
type Queue struct {
	db *store.Database
}

// New wraps db as a job queue.
func New(db *store.Database) *Queue {
	return &Queue{db: db}
}

// Add enqueues a new job under taskName with the given input and returns
// its id. It fails only if the store itself cannot be reached or exhausts
// its internal conflict retries; a job is never left half-written.
func (q *Queue) Add(taskName string, input []byte) (string, error) {
	id := newJobID()
	now := time.Now().UTC()

	committed, err := store.WithRetry(defaultConflictRetries, func() (bool, error) {
		tx := q.db.Begin()

		record := Record{
			ID:        id,
			TaskName:  taskName,
			Input:     input,
			Status:    StatusQueued,
			CreatedAt: now,
		}
		if err := tx.Put(bucketJobs, id, record); err != nil {
			return false, err
		}

		var list pendingList
		if _, err := tx.Get(bucketMeta, keyPending, &list); err != nil {
			return false, err
		}
		list.IDs = append(list.IDs, id)
		if err := tx.Put(bucketMeta, keyPending, list); err != nil {
			return false, err
		}

		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	if !committed {
		return "", store.ErrConflict
	}
	return id, nil
}

// HasPending reports whether any job is currently QUEUED.
func (q *Queue) HasPending() (bool, error) {
	tx := q.db.Begin()
	var list pendingList
	if _, err := tx.Get(bucketMeta, keyPending, &list); err != nil {
		return false, err
	}
	return len(list.IDs) > 0, nil
}

// Get returns the current record for id.
func (q *Queue) Get(id string) (Record, error) {
	tx := q.db.Begin()
	var record Record
	found, err := tx.Get(bucketJobs, id, &record)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return record, nil
}

// Cancel transitions id from QUEUED to CANCELLED and removes it from the
// pending sequence. It returns ErrAlreadyClaimed if the job exists but has
// progressed past QUEUED (per the spec, cancellation of a CLAIMED job is
// left unsupported), and ErrNotFound if the id is unknown.
func (q *Queue) Cancel(id string) (bool, error) {
	for attempt := 0; ; attempt++ {
		tx := q.db.Begin()

		var record Record
		found, err := tx.Get(bucketJobs, id, &record)
		if err != nil {
			return false, err
		}
		if !found {
			return false, ErrNotFound
		}
		if record.Status != StatusQueued {
			return false, ErrAlreadyClaimed
		}

		record.Status = StatusCancelled
		if err := tx.Put(bucketJobs, id, record); err != nil {
			return false, err
		}

		var list pendingList
		if _, err := tx.Get(bucketMeta, keyPending, &list); err != nil {
			return false, err
		}
		list.IDs = removeID(list.IDs, id)
		if err := tx.Put(bucketMeta, keyPending, list); err != nil {
			return false, err
		}

		committed, err := tx.Commit()
		if err == store.ErrConflict {
			if attempt+1 >= defaultConflictRetries {
				return false, err
			}
			time.Sleep(store.RetryBackoff(attempt))
			continue
		}
		if err != nil {
			return false, err
		}
		return committed, nil
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// ClaimNext atomically selects the oldest QUEUED job, marks it CLAIMED
// under owner, and removes it from the pending sequence, all staged within
// tx. The caller is responsible for committing tx; until it does, none of
// this is visible to anyone else. Returns ok=false if the queue is empty.
func ClaimNext(tx *store.Tx, owner string) (Record, bool, error) {
	var list pendingList
	if _, err := tx.Get(bucketMeta, keyPending, &list); err != nil {
		return Record{}, false, err
	}
	if len(list.IDs) == 0 {
		return Record{}, false, nil
	}

	id := list.IDs[0]
	var record Record
	found, err := tx.Get(bucketJobs, id, &record)
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		// The pending list referenced a job that no longer exists; this
		// should not happen under the invariants, but dropping the
		// dangling entry keeps the queue self-healing rather than stuck.
		list.IDs = list.IDs[1:]
		if err := tx.Put(bucketMeta, keyPending, list); err != nil {
			return Record{}, false, err
		}
		return Record{}, false, nil
	}

	now := time.Now().UTC()
	record.Status = StatusClaimed
	record.Owner = owner
	record.ClaimedAt = now
	if err := tx.Put(bucketJobs, id, record); err != nil {
		return Record{}, false, err
	}

	list.IDs = list.IDs[1:]
	if err := tx.Put(bucketMeta, keyPending, list); err != nil {
		return Record{}, false, err
	}

	return record, true, nil
}

// MarkProcessing transitions id from CLAIMED to PROCESSING within tx.
func MarkProcessing(tx *store.Tx, id string) error {
	var record Record
	found, err := tx.Get(bucketJobs, id, &record)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	record.Status = StatusProcessing
	return tx.Put(bucketJobs, id, record)
}

// MarkCompleted transitions id to COMPLETED with the given output, within tx.
func MarkCompleted(tx *store.Tx, id string, output []byte) error {
	return finish(tx, id, StatusCompleted, output)
}

// MarkError transitions id to ERROR with the given diagnostic output,
// within tx.
func MarkError(tx *store.Tx, id string, output []byte) error {
	return finish(tx, id, StatusError, output)
}

func finish(tx *store.Tx, id string, status Status, output []byte) error {
	var record Record
	found, err := tx.Get(bucketJobs, id, &record)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	record.Status = status
	record.Output = output
	record.CompletedAt = time.Now().UTC()
	return tx.Put(bucketJobs, id, record)
}

// GetInTx reads id's current record within tx, so a processor can observe
// its own staged claim before committing.
func GetInTx(tx *store.Tx, id string) (Record, bool, error) {
	var record Record
	found, err := tx.Get(bucketJobs, id, &record)
	return record, found, err
}
