//
// Copyright © 2017 Solus Project
//

package queue

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/solus-project/ferryq/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestAddThenGetRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Add("sleep", []byte("payload"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	record, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.TaskName != "sleep" {
		t.Errorf("expected taskName sleep, found %q", record.TaskName)
	}
	if string(record.Input) != "payload" {
		t.Errorf("expected input payload, found %q", record.Input)
	}
	if record.Status != StatusQueued {
		t.Errorf("expected QUEUED, found %s", record.Status)
	}
}

func TestGetUnknownID(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Get("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, found %v", err)
	}
}

func TestHasPendingReflectsQueueState(t *testing.T) {
	q := newTestQueue(t)
	has, err := q.HasPending()
	if err != nil || has {
		t.Fatalf("expected no pending jobs initially, has=%v err=%v", has, err)
	}

	if _, err := q.Add("sleep", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	has, err = q.HasPending()
	if err != nil || !has {
		t.Fatalf("expected pending job after Add, has=%v err=%v", has, err)
	}
}

func TestClaimNextIsFIFOAndRemovesFromPending(t *testing.T) {
	q := newTestQueue(t)
	first, _ := q.Add("sleep", []byte("1"))
	second, _ := q.Add("sleep", []byte("2"))

	tx := q.db.Begin()
	claimed, ok, err := ClaimNext(tx, "owner-a")
	if err != nil || !ok {
		t.Fatalf("ClaimNext failed: ok=%v err=%v", ok, err)
	}
	if claimed.ID != first {
		t.Errorf("expected to claim %s first, claimed %s", first, claimed.ID)
	}
	if claimed.Status != StatusClaimed || claimed.Owner != "owner-a" {
		t.Errorf("unexpected claimed record: %+v", claimed)
	}
	if committed, err := tx.Commit(); err != nil || !committed {
		t.Fatalf("commit failed: committed=%v err=%v", committed, err)
	}

	has, _ := q.HasPending()
	if !has {
		t.Errorf("expected second job to still be pending")
	}

	record, err := q.Get(first)
	if err != nil || record.Status != StatusClaimed {
		t.Errorf("expected first job to be CLAIMED, found %+v err=%v", record, err)
	}

	tx2 := q.db.Begin()
	claimed2, ok, err := ClaimNext(tx2, "owner-b")
	if err != nil || !ok || claimed2.ID != second {
		t.Fatalf("expected to claim second job, claimed=%+v ok=%v err=%v", claimed2, ok, err)
	}
	tx2.Commit()
}

func TestClaimNextOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	tx := q.db.Begin()
	_, ok, err := ClaimNext(tx, "owner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected claim on empty queue to fail")
	}
}

func TestMarkCompletedTransitionsStatus(t *testing.T) {
	q := newTestQueue(t)
	id, _ := q.Add("sleep", nil)

	tx := q.db.Begin()
	ClaimNext(tx, "owner")
	MarkProcessing(tx, id)
	MarkCompleted(tx, id, []byte("done"))
	if committed, err := tx.Commit(); err != nil || !committed {
		t.Fatalf("commit failed: committed=%v err=%v", committed, err)
	}

	record, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, found %s", record.Status)
	}
	if string(record.Output) != "done" {
		t.Errorf("expected output done, found %q", record.Output)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	q := newTestQueue(t)
	id, _ := q.Add("sleep", nil)

	ok, err := q.Cancel(id)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, ok=%v err=%v", ok, err)
	}

	record, _ := q.Get(id)
	if record.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, found %s", record.Status)
	}

	has, _ := q.HasPending()
	if has {
		t.Errorf("expected cancelled job to be removed from pending sequence")
	}
}

func TestCancelClaimedJobFails(t *testing.T) {
	q := newTestQueue(t)
	id, _ := q.Add("sleep", nil)

	tx := q.db.Begin()
	ClaimNext(tx, "owner")
	tx.Commit()

	ok, err := q.Cancel(id)
	if err != ErrAlreadyClaimed {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if ok {
		t.Errorf("expected cancel of a CLAIMED job to fail")
	}
}

func TestClaimUniquenessUnderContention(t *testing.T) {
	q := newTestQueue(t)
	const n = 100
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id, err := q.Add("sleep", nil)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		ids[id] = true
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)

	claimAll := func(owner string) {
		defer wg.Done()
		for {
			tx := q.db.Begin()
			record, ok, err := ClaimNext(tx, owner)
			if err != nil {
				t.Errorf("ClaimNext error: %v", err)
				return
			}
			if !ok {
				return
			}
			committed, err := tx.Commit()
			if err == store.ErrConflict || !committed {
				continue
			}
			if err != nil {
				t.Errorf("commit error: %v", err)
				return
			}
			mu.Lock()
			claimed[record.ID]++
			mu.Unlock()
		}
	}

	wg.Add(2)
	go claimAll("owner-a")
	go claimAll("owner-b")
	wg.Wait()

	if len(claimed) != n {
		t.Fatalf("expected %d distinct jobs claimed, found %d", n, len(claimed))
	}
	for id := range ids {
		if claimed[id] != 1 {
			t.Errorf("job %s claimed %d times, expected exactly 1", id, claimed[id])
		}
	}
}
