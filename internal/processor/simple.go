//
// Copyright © 2017 Solus Project
//

package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solus-project/ferryq/internal/registry"
	"github.com/solus-project/ferryq/internal/store"
)

// Simple is the single-worker strategy: it claims and fully resolves one
// job at a time, in FIFO order, on a single goroutine. It is the natural
// choice for CPU-bound tasks, or for callers that need a strict guarantee
// that no two jobs ever run concurrently. Descended from ferryd's
// sequential queue half of jobs.Processor.
type Simple struct {
	db    *store.Database
	reg   *registry.Registry
	cfg   Config
	owner string
	log   *logrus.Entry

	poison *poisonSet

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// NewSimple constructs a Simple processor over db and reg. cfg's zero
// fields are replaced with DefaultConfig's values.
func NewSimple(db *store.Database, reg *registry.Registry, cfg Config, log *logrus.Entry) *Simple {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Simple{
		db:     db,
		reg:    reg,
		cfg:    withDefaults(cfg),
		owner:  newOwner("simple"),
		log:    log.WithField("processor", "simple"),
		poison: newPoisonSet(),
	}
}

// Start begins the claim/dispatch loop on a new goroutine. Calling Start
// again while the loop is already running has no effect.
func (s *Simple) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals the loop to exit after its current iteration and blocks
// until it does.
func (s *Simple) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Simple) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		ran, err := runOneWithRetry(ctx, s.db, s.reg, s.owner, s.poison, s.log, s.cfg.ConflictRetryLimit)
		if err != nil {
			s.log.WithError(err).Error("unexpected store error, backing off")
			ran = false
		}

		if ran {
			continue
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.WaitTime):
		}
	}
}
