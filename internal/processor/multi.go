//
// Copyright © 2017 Solus Project
//

package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/solus-project/ferryq/internal/registry"
	"github.com/solus-project/ferryq/internal/store"
)

// Multi is the bounded worker-pool strategy: the dispatch loop claims one
// job at a time but hands each claim to its own goroutine, up to
// cfg.MaxThreads running concurrently, suited to I/O-bound tasks that spend
// most of their time waiting. Descended from ferryd's backgrounded worker
// pool in jobs.Processor/jobs.Worker, with the fixed worker-channel fan-out
// replaced by a semaphore.Weighted so the live-worker budget is an explicit,
// queryable value rather than an implicit channel buffer.
type Multi struct {
	db    *store.Database
	reg   *registry.Registry
	cfg   Config
	owner string
	log   *logrus.Entry

	poison *poisonSet
	sem    *semaphore.Weighted

	stopCh chan struct{}
	doneCh chan struct{}

	wg sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewMulti constructs a Multi processor over db and reg. cfg's zero fields
// are replaced with DefaultConfig's values, including MaxThreads.
func NewMulti(db *store.Database, reg *registry.Registry, cfg Config, log *logrus.Entry) *Multi {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg = withDefaults(cfg)
	return &Multi{
		db:     db,
		reg:    reg,
		cfg:    cfg,
		owner:  newOwner("multi"),
		log:    log.WithField("processor", "multi"),
		poison: newPoisonSet(),
		sem:    semaphore.NewWeighted(int64(cfg.MaxThreads)),
	}
}

// Start begins the dispatch loop on a new goroutine.
func (m *Multi) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.dispatch(ctx)
}

// Stop signals the dispatch loop to stop claiming new work and blocks
// until every in-flight worker has finished.
func (m *Multi) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// dispatch is the main loop: it acquires one unit of the thread budget,
// claims the next job, and spawns a worker goroutine to run it, releasing
// the budget when that goroutine finishes. If no job is waiting, the
// acquired unit is released immediately and the loop waits cfg.WaitTime
// before trying again.
func (m *Multi) dispatch(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !m.sem.TryAcquire(1) {
			// Every worker slot is in use; wait for one to free up rather
			// than busy-spinning on TryAcquire.
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(s10ms):
			}
			continue
		}

		id, ok, err := m.claimAndCommit()
		if err != nil {
			m.sem.Release(1)
			m.log.WithError(err).Error("unexpected store error while claiming")
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.WaitTime):
			}
			continue
		}
		if !ok {
			m.sem.Release(1)
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.WaitTime):
			}
			continue
		}

		// The claim is already durable (claimAndCommit committed it): the
		// worker starts its own transaction rather than inheriting this
		// one, so the dispatcher can move on to the next job as soon as
		// that commit lands instead of waiting on this job's execution.
		m.wg.Add(1)
		go m.worker(ctx, id)

		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ThreadStartupWait):
		}
	}
}

const s10ms = 10 * time.Millisecond

// claimAndCommit stages a claim of the next pending job and commits it in
// its own short transaction, so the claim is durable - and the pending-list
// key free for the next dispatch iteration - before any worker is spawned.
// ok is false both when the queue is empty and when this claim lost a race
// on the shared pending-list key; either way the caller just retries later.
func (m *Multi) claimAndCommit() (id string, ok bool, err error) {
	tx := m.db.Begin()
	record, found, err := claimNextRecord(tx, m.owner)
	if err != nil {
		return "", false, err
	}
	if !found {
		tx.Commit()
		return "", false, nil
	}
	committed, err := tx.Commit()
	if err == store.ErrConflict {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !committed {
		return "", false, nil
	}
	return record.ID, true, nil
}

// worker opens its own transaction to resolve and finish the job already
// committed as CLAIMED by the dispatcher, then releases its thread-budget
// unit. Per the worker contract, this transaction belongs to the worker
// alone: an abort inside the task affects only this commit, never the
// dispatcher's claim.
func (m *Multi) worker(ctx context.Context, id string) {
	defer m.wg.Done()
	defer m.sem.Release(1)

	tx := m.db.Begin()
	err := runClaimed(ctx, m.db, tx, id, m.reg, m.poison, m.log)
	switch err {
	case nil:
	case store.ErrConflict:
		// Practically unreachable: no other transaction ever touches this
		// job's key once it is CLAIMED under this worker's owner. Logged
		// rather than assumed impossible, since the job is left CLAIMED
		// with no further retry in that case.
		m.log.WithField("id", id).Error("store conflict finishing claimed job; job left CLAIMED")
	default:
		m.log.WithError(err).WithField("id", id).Error("unexpected store error while finishing job")
	}
}
