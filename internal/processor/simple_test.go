//
// Copyright © 2017 Solus Project
//

package processor

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solus-project/ferryq/internal/queue"
	"github.com/solus-project/ferryq/internal/registry"
	"github.com/solus-project/ferryq/internal/store"
)

func newTestStore(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestSimpleProcessesJobsInOrder(t *testing.T) {
	db := newTestStore(t)
	q := queue.New(db)
	reg := registry.New()

	var results []string
	reg.RegisterFunc("echo", func(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error) {
		results = append(results, string(input))
		return input, nil
	})

	for _, payload := range []string{"a", "b", "c"} {
		if _, err := q.Add("echo", []byte(payload)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	cfg := Config{WaitTime: 5 * time.Millisecond, ConflictRetryLimit: 3}
	s := NewSimple(db, reg, cfg, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return len(results) == 3 })
	if results[0] != "a" || results[1] != "b" || results[2] != "c" {
		t.Errorf("expected FIFO order a,b,c, found %v", results)
	}
}

// TestSimpleAbortRegression is the "counter += 1; abort()" scenario: a task
// that always aborts its transaction must never be invoked a second time
// for the same job, and the job must end up ERROR rather than looping
// forever.
func TestSimpleAbortRegression(t *testing.T) {
	db := newTestStore(t)
	q := queue.New(db)
	reg := registry.New()

	var invocations int32
	reg.RegisterFunc("poison", func(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error) {
		atomic.AddInt32(&invocations, 1)
		tx.Abort()
		return nil, nil
	})

	id, err := q.Add("poison", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	cfg := Config{WaitTime: 5 * time.Millisecond, ConflictRetryLimit: 3}
	s := NewSimple(db, reg, cfg, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool {
		record, err := q.Get(id)
		return err == nil && record.Status == queue.StatusError
	})

	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Errorf("expected task to be invoked exactly once, found %d", n)
	}
}

func TestSimpleTaskErrorMarksJobError(t *testing.T) {
	db := newTestStore(t)
	q := queue.New(db)
	reg := registry.New()

	reg.RegisterFunc("fails", func(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	id, err := q.Add("fails", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	cfg := Config{WaitTime: 5 * time.Millisecond, ConflictRetryLimit: 3}
	s := NewSimple(db, reg, cfg, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool {
		record, err := q.Get(id)
		return err == nil && record.Status == queue.StatusError
	})

	record, _ := q.Get(id)
	if string(record.Output) != "boom" {
		t.Errorf("expected output to carry the error message, found %q", record.Output)
	}
}

func TestSimpleUnregisteredTaskMarksJobError(t *testing.T) {
	db := newTestStore(t)
	q := queue.New(db)
	reg := registry.New()

	id, err := q.Add("missing", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	cfg := Config{WaitTime: 5 * time.Millisecond, ConflictRetryLimit: 3}
	s := NewSimple(db, reg, cfg, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool {
		record, err := q.Get(id)
		return err == nil && record.Status == queue.StatusError
	})
}

func TestSimpleStopIsIdempotentAndBlocksUntilDone(t *testing.T) {
	db := newTestStore(t)
	reg := registry.New()
	cfg := Config{WaitTime: 5 * time.Millisecond, ConflictRetryLimit: 3}
	s := NewSimple(db, reg, cfg, nil)

	s.Start(context.Background())
	s.Stop()
	s.Stop() // second Stop must not panic or deadlock

	s.Start(context.Background())
	s.Stop()
}
