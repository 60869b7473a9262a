//
// Copyright © 2017 Solus Project
//

package store

import (
	"path/filepath"
	"testing"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetMissingKey(t *testing.T) {
	db := newTestDatabase(t)
	tx := db.Begin()
	var out string
	found, err := tx.Get("bucket", "missing", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Errorf("expected missing key to not be found")
	}
}

func TestPutThenGetWithinTx(t *testing.T) {
	db := newTestDatabase(t)
	tx := db.Begin()
	if err := tx.Put("bucket", "id", "hello"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	var out string
	found, err := tx.Get("bucket", "id", &out)
	if err != nil || !found {
		t.Fatalf("expected staged write to be visible, found=%v err=%v", found, err)
	}
	if out != "hello" {
		t.Errorf("expected hello, found %q", out)
	}
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	db := newTestDatabase(t)
	tx := db.Begin()
	tx.Put("bucket", "id", "hello")
	committed, err := tx.Commit()
	if err != nil || !committed {
		t.Fatalf("expected commit to succeed, committed=%v err=%v", committed, err)
	}

	tx2 := db.Begin()
	var out string
	found, err := tx2.Get("bucket", "id", &out)
	if err != nil || !found || out != "hello" {
		t.Fatalf("expected persisted value, found=%v out=%q err=%v", found, out, err)
	}
}

func TestAbortDiscardsWrites(t *testing.T) {
	db := newTestDatabase(t)
	tx := db.Begin()
	tx.Put("bucket", "id", "hello")
	tx.Abort()
	committed, err := tx.Commit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if committed {
		t.Errorf("expected aborted transaction to report committed=false")
	}

	tx2 := db.Begin()
	var out string
	found, _ := tx2.Get("bucket", "id", &out)
	if found {
		t.Errorf("expected aborted write to not be persisted")
	}
}

func TestConflictingCommitIsRejected(t *testing.T) {
	db := newTestDatabase(t)
	setup := db.Begin()
	setup.Put("bucket", "id", "v0")
	if committed, err := setup.Commit(); err != nil || !committed {
		t.Fatalf("setup commit failed: committed=%v err=%v", committed, err)
	}

	txA := db.Begin()
	var out string
	txA.Get("bucket", "id", &out)

	txB := db.Begin()
	txB.Get("bucket", "id", &out)
	txB.Put("bucket", "id", "v1")
	if committed, err := txB.Commit(); err != nil || !committed {
		t.Fatalf("txB commit failed: committed=%v err=%v", committed, err)
	}

	txA.Put("bucket", "id", "v2")
	if committed, err := txA.Commit(); err != ErrConflict || committed {
		t.Errorf("expected txA to conflict, committed=%v err=%v", committed, err)
	}
}

func TestCommitTwicePanics(t *testing.T) {
	db := newTestDatabase(t)
	tx := db.Begin()
	tx.Commit()
	defer func() {
		if recover() == nil {
			t.Errorf("expected second Commit to panic")
		}
	}()
	tx.Commit()
}
