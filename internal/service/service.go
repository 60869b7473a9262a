//
// Copyright © 2017 Solus Project
//

// Package service is the adaptor layer that a daemon binds to: it owns the
// queue, the task registry, and whichever processor strategy is currently
// running, and exposes the lifecycle (StartProcessing/StopProcessing) that
// the admin API and the command-line client drive. It is the direct
// descendant of ferryd's Server type in server.go, generalized from a
// single always-on jobs.Processor to a pluggable, start/stoppable strategy.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/solus-project/ferryq/internal/processor"
	"github.com/solus-project/ferryq/internal/queue"
	"github.com/solus-project/ferryq/internal/registry"
	"github.com/solus-project/ferryq/internal/store"
)

// ErrAlreadyRunning is returned by StartProcessing when a processor is
// already active.
var ErrAlreadyRunning = errors.New("service: processor is already running")

// ErrNotRunning is returned by StopProcessing when no processor is active.
var ErrNotRunning = errors.New("service: processor is not running")

// Strategy names recognized by StartProcessing.
const (
	StrategySimple = "simple"
	StrategyMulti  = "multi"
)

// runner is satisfied by both processor.Simple and processor.Multi.
type runner interface {
	Start(ctx context.Context)
	Stop()
}

// Service ties a queue.Queue and a registry.Registry to a processor
// lifecycle, plus bookkeeping on which strategy is active and under what
// configuration, mirroring ferryd's Server/jobs.Processor pairing.
type Service struct {
	db  *store.Database
	log *logrus.Entry

	Queue    *queue.Queue
	Registry *registry.Registry

	mu       sync.Mutex
	active   runner
	strategy string
	cancel   context.CancelFunc
}

// New constructs a Service over an already-open database. The Service
// takes over db: its Close method stops processing and closes db.
func New(db *store.Database, reg *registry.Registry, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		db:       db,
		log:      log,
		Queue:    queue.New(db),
		Registry: reg,
	}
}

// Add enqueues a new job. It is a thin passthrough to Queue.Add, kept on
// Service so the admin API has one surface to call.
func (s *Service) Add(taskName string, input []byte) (string, error) {
	return s.Queue.Add(taskName, input)
}

// Get returns a job's current record.
func (s *Service) Get(id string) (queue.Record, error) {
	return s.Queue.Get(id)
}

// Cancel cancels a still-queued job.
func (s *Service) Cancel(id string) (bool, error) {
	return s.Queue.Cancel(id)
}

// StartProcessing brings up the named strategy ("simple" or "multi") with
// cfg and begins claiming jobs. It fails with ErrAlreadyRunning if a
// processor is already active.
func (s *Service) StartProcessing(strategy string, cfg processor.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return ErrAlreadyRunning
	}

	var r runner
	switch strategy {
	case StrategySimple:
		r = processor.NewSimple(s.db, s.Registry, cfg, s.log)
	case StrategyMulti:
		r = processor.NewMulti(s.db, s.Registry, cfg, s.log)
	default:
		return errors.New("service: unknown processor strategy " + strategy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	if err := persistActive(s.db, true, configFrom(strategy, cfg)); err != nil {
		r.Stop()
		cancel()
		return err
	}

	s.active = r
	s.strategy = strategy
	s.cancel = cancel
	s.log.WithField("strategy", strategy).Info("processing started")
	return nil
}

// StopProcessing halts the active processor and blocks until it has
// drained its in-flight work, per that strategy's own Stop semantics.
func (s *Service) StopProcessing() error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	r := s.active
	cancel := s.cancel
	strategy := s.strategy
	s.active = nil
	s.strategy = ""
	s.cancel = nil
	s.mu.Unlock()

	r.Stop()
	cancel()

	if err := persistActive(s.db, false, persistedConfig{}); err != nil {
		s.log.WithError(err).Error("failed to persist stopped state")
		return err
	}

	s.log.WithField("strategy", strategy).Info("processing stopped")
	return nil
}

// PersistedState reads back the active flag and processor config last
// committed by StartProcessing/StopProcessing, as recorded under the
// service root's own keys. It does not reflect in-memory state and is
// meant for inspecting what was running before a restart; nothing resumes
// a processor from it automatically (see DESIGN.md's open question
// decisions).
func (s *Service) PersistedState() (active bool, strategy string, cfg processor.Config, err error) {
	persistedActive, persisted, err := readPersistedState(s.db)
	if err != nil {
		return false, "", processor.Config{}, err
	}
	if !persistedActive {
		return false, "", processor.Config{}, nil
	}
	return true, persisted.Strategy, persisted.toProcessorConfig(), nil
}

// Active reports whether a processor is currently running and, if so,
// under which strategy name.
func (s *Service) Active() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil, s.strategy
}

// Close stops any active processor and closes the underlying database.
func (s *Service) Close() error {
	_ = s.StopProcessing()
	return s.db.Close()
}
