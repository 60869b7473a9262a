//
// Copyright © 2017 Solus Project
//

// Package registry provides the name -> Task lookup that the job processor
// consults to resolve a JobRecord's taskName into executable code. It is the
// one piece of the original ferryd Runnable contract that survives almost
// unchanged: Perform(m) became Execute(ctx, tx, input), because a task in
// this system acts against the store transaction that finishes its job
// rather than against a package manager instance.
package registry

import (
	"context"
	"sync"

	"github.com/solus-project/ferryq/internal/store"
)

// Task is a named, executable unit of work. Execute runs within the store
// transaction that records the job's outcome, so it may read and write
// additional state transactionally. Under processor.Simple that transaction
// also staged the job's claim; under processor.Multi the claim was committed
// beforehand in a separate transaction. Calling tx.Abort() discards what the
// transaction staged, and the job is then finished as ERROR without the task
// being run again.
type Task interface {
	Execute(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error)
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error)

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error) {
	return f(ctx, tx, input)
}

// Registry is a concurrency-safe, name-keyed lookup of Tasks. It is
// read-only once processing begins, but registration itself is guarded in
// case a caller wires up tasks from multiple goroutines during startup.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register binds name to t, replacing any previous binding.
func (r *Registry) Register(name string, t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = t
}

// RegisterFunc is a convenience wrapper around Register for plain functions.
func (r *Registry) RegisterFunc(name string, f func(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error)) {
	r.Register(name, TaskFunc(f))
}

// Resolve looks up the Task bound to name. The second return value is false
// if no such Task has been registered.
func (r *Registry) Resolve(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}
