//
// Copyright © 2017 Solus Project
//

package service

import (
	"time"

	"github.com/solus-project/ferryq/internal/processor"
	"github.com/solus-project/ferryq/internal/store"
)

// bucketService holds the service root's own keys, alongside the queue's
// jobs/pending buckets in the same store.Database: active (a bool flag)
// and config (the processor factory reference plus its argument map), per
// the persisted state layout.
const (
	bucketService = "service"
	keyActive     = "active"
	keyConfig     = "config"
)

// persistedConfig is the durable form of processorFactory/processorArguments:
// the strategy name a StartProcessing call was given, plus the processor.Config
// it built, flattened to millisecond fields so it gob-encodes without
// depending on time.Duration's representation.
type persistedConfig struct {
	Strategy            string
	WaitTimeMillis      int64
	ConflictRetryLimit  int
	MaxThreads          int
	ThreadStartupMillis int64
}

func configFrom(strategy string, cfg processor.Config) persistedConfig {
	return persistedConfig{
		Strategy:            strategy,
		WaitTimeMillis:      cfg.WaitTime.Milliseconds(),
		ConflictRetryLimit:  cfg.ConflictRetryLimit,
		MaxThreads:          cfg.MaxThreads,
		ThreadStartupMillis: cfg.ThreadStartupWait.Milliseconds(),
	}
}

func (c persistedConfig) toProcessorConfig() processor.Config {
	return processor.Config{
		WaitTime:           time.Duration(c.WaitTimeMillis) * time.Millisecond,
		ConflictRetryLimit: c.ConflictRetryLimit,
		MaxThreads:         c.MaxThreads,
		ThreadStartupWait:  time.Duration(c.ThreadStartupMillis) * time.Millisecond,
	}
}

// persistActive commits the active flag, and - while active - the config
// that produced it, in its own transaction, so StartProcessing/StopProcessing
// calls themselves commit a transaction and the flag survives a restart.
// Actually resuming the processor loop from this flag is a deliberate gap
// (see DESIGN.md's open question decisions); this only makes the fact that
// a processor was running, and under what configuration, observable after
// a crash.
func persistActive(db *store.Database, active bool, cfg persistedConfig) error {
	tx := db.Begin()
	if err := tx.Put(bucketService, keyActive, active); err != nil {
		return err
	}
	if active {
		if err := tx.Put(bucketService, keyConfig, cfg); err != nil {
			return err
		}
	}
	committed, err := tx.Commit()
	if err != nil {
		return err
	}
	if !committed {
		return store.ErrConflict
	}
	return nil
}

// readPersistedState reads back the last committed active flag and config.
func readPersistedState(db *store.Database) (active bool, cfg persistedConfig, err error) {
	tx := db.Begin()
	if _, err = tx.Get(bucketService, keyActive, &active); err != nil {
		return false, persistedConfig{}, err
	}
	if active {
		if _, err = tx.Get(bucketService, keyConfig, &cfg); err != nil {
			return false, persistedConfig{}, err
		}
	}
	tx.Commit()
	return active, cfg, nil
}
