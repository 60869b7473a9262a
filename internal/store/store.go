//
// Copyright © 2017 Solus Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package store provides the durable, transactional object graph that the
// job queue is built on top of. It wraps a boltdb file for on-disk
// persistence but layers an optimistic-concurrency protocol on top of it:
// a Tx records the version of every key it touches when it first touches it,
// and Commit refuses to apply any writes if one of those versions has moved
// on in the meantime. This mirrors the "transactional object graph with
// optimistic concurrency" that a durable job queue needs, which boltdb's own
// single-writer locking does not provide on its own.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"sync"
	"time"

	"github.com/boltdb/bolt"
)

var (
	// ErrConflict is returned from Commit when a key this transaction read
	// or wrote has been modified by another, already-committed transaction.
	ErrConflict = errors.New("store: conflicting commit")

	// ErrNotFound names an absent key. Tx.Get reports absence through its
	// boolean result instead, and nothing in this package returns it.
	ErrNotFound = errors.New("store: key not found")
)

// Database is the durable, transactional object graph. All mutation happens
// through a Tx obtained from Begin; Database itself only owns the boltdb
// handle and the version table used to detect conflicting commits.
type Database struct {
	bolt *bolt.DB

	vmu      sync.Mutex
	versions map[string]uint64
}

// Open creates or opens the bolt file at path and returns a ready Database.
func Open(path string) (*Database, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return &Database{
		bolt:     db,
		versions: make(map[string]uint64),
	}, nil
}

// Close releases the underlying bolt file.
func (d *Database) Close() error {
	return d.bolt.Close()
}

func versionKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (d *Database) currentVersion(bucket, key string) uint64 {
	d.vmu.Lock()
	defer d.vmu.Unlock()
	return d.versions[versionKey(bucket, key)]
}

// Begin starts a new transaction. Reads are served immediately (and
// concurrently with other in-flight transactions); writes are only staged
// until Commit succeeds.
func (d *Database) Begin() *Tx {
	return &Tx{
		db:         d,
		reads:      make(map[string]uint64),
		writeIndex: make(map[string]int),
	}
}

// writeOp is a single staged mutation. A nil value means "delete this key".
type writeOp struct {
	bucket, key string
	value       []byte
}

// Tx is a single optimistic-concurrency transaction against a Database.
// It is not safe for concurrent use by multiple goroutines.
type Tx struct {
	db *Database

	reads      map[string]uint64 // bucket\x00key -> version observed at first touch
	writes     []writeOp
	writeIndex map[string]int // bucket\x00key -> index into writes, for last-write-wins

	aborted   bool
	committed bool
}

// recordRead remembers the version a key had the first time this
// transaction observed it, so Commit can detect if it moved since.
func (t *Tx) recordRead(bucket, key string) {
	vk := versionKey(bucket, key)
	if _, ok := t.reads[vk]; ok {
		return
	}
	t.reads[vk] = t.db.currentVersion(bucket, key)
}

func (t *Tx) stage(bucket, key string, raw []byte) {
	vk := versionKey(bucket, key)
	if idx, ok := t.writeIndex[vk]; ok {
		t.writes[idx].value = raw
		return
	}
	t.writeIndex[vk] = len(t.writes)
	t.writes = append(t.writes, writeOp{bucket: bucket, key: key, value: raw})
}

// Get decodes the value stored under bucket/key into out, which must be a
// pointer. It returns false, nil if the key does not exist. A value staged
// by this same transaction (but not yet committed) is visible to later Gets
// within the transaction.
func (t *Tx) Get(bucket, key string, out interface{}) (bool, error) {
	vk := versionKey(bucket, key)
	if idx, ok := t.writeIndex[vk]; ok {
		op := t.writes[idx]
		if op.value == nil {
			return false, nil
		}
		return true, gobDecode(op.value, out)
	}

	t.recordRead(bucket, key)
	var raw []byte
	err := t.db.bolt.View(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if raw == nil {
		return false, nil
	}
	return true, gobDecode(raw, out)
}

// Put stages val to be written to bucket/key when the transaction commits.
func (t *Tx) Put(bucket, key string, val interface{}) error {
	t.recordRead(bucket, key)
	raw, err := gobEncode(val)
	if err != nil {
		return err
	}
	t.stage(bucket, key, raw)
	return nil
}

// Delete stages bucket/key for removal when the transaction commits.
func (t *Tx) Delete(bucket, key string) {
	t.recordRead(bucket, key)
	t.stage(bucket, key, nil)
}

// Abort marks the transaction as aborted. A subsequent Commit will discard
// every staged write and report that nothing was persisted, without
// consulting the conflict table. This is how a task signals that its
// in-flight work should not count: everything staged in this transaction,
// including a claim if one was staged in it, is undone.
func (t *Tx) Abort() {
	t.aborted = true
}

// Aborted reports whether Abort has been called on this transaction.
func (t *Tx) Aborted() bool {
	return t.aborted
}

// Commit attempts to apply every staged write as a single bolt transaction.
// It first verifies that no key this transaction read or wrote has been
// committed by someone else in the meantime; if one has, it returns
// (false, ErrConflict) and applies nothing. If the transaction was aborted
// it returns (false, nil). On success it returns (true, nil).
//
// A transaction must not be committed twice.
func (t *Tx) Commit() (bool, error) {
	if t.committed {
		panic("store: Tx committed twice")
	}
	t.committed = true

	if t.aborted {
		return false, nil
	}

	t.db.vmu.Lock()
	defer t.db.vmu.Unlock()

	for vk, observed := range t.reads {
		if t.db.versions[vk] != observed {
			return false, ErrConflict
		}
	}

	if len(t.writes) == 0 {
		return true, nil
	}

	err := t.db.bolt.Update(func(btx *bolt.Tx) error {
		for _, op := range t.writes {
			b, err := btx.CreateBucketIfNotExists([]byte(op.bucket))
			if err != nil {
				return err
			}
			if op.value == nil {
				if err := b.Delete([]byte(op.key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.key), op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, op := range t.writes {
		t.db.versions[versionKey(op.bucket, op.key)]++
	}
	return true, nil
}

// gobEncode and gobDecode are deliberately simple, allocating a fresh
// buffer per call: job records are small and claims are not so frequent
// that a shared, mutex-guarded encoder (as ferryd's GobTranscoder used to
// do) earns back its complexity here.
func gobEncode(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(raw []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(out)
}
