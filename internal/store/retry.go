//
// Copyright © 2017 Solus Project
//

package store

import (
	"math/rand"
	"time"
)

// RetryBackoff returns the exponential backoff delay for the given attempt
// number (0-based), with a small jitter added so that a herd of conflicting
// transactions does not retry in lockstep.
func RetryBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
	if base > time.Second {
		base = time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return base + jitter
}

// WithRetry runs fn, which should Begin a Tx, do its work and Commit it,
// returning the Tx's own (committed, err) pair. If the commit failed with
// ErrConflict, WithRetry sleeps a backoff interval and tries again, up to
// limit attempts (limit <= 0 means "retry forever"). Any other error, or a
// successful-but-aborted transaction (committed == false, err == nil), is
// returned immediately without retrying.
func WithRetry(limit int, fn func() (committed bool, err error)) (bool, error) {
	for attempt := 0; ; attempt++ {
		committed, err := fn()
		if err != ErrConflict {
			return committed, err
		}
		if limit > 0 && attempt+1 >= limit {
			return false, err
		}
		time.Sleep(RetryBackoff(attempt))
	}
}
