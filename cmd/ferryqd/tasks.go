//
// Copyright © 2017 Solus Project
//

package main

import (
	"context"
	"time"

	"github.com/solus-project/ferryq/internal/registry"
	"github.com/solus-project/ferryq/internal/store"
)

// registerBuiltinTasks wires in the small set of task types ferryqd ships
// out of the box. Real deployments are expected to register their own
// domain tasks against the same registry.Registry before calling
// Service.StartProcessing; these exist to make a freshly installed daemon
// immediately useful for smoke-testing the queue.
func registerBuiltinTasks(reg *registry.Registry) {
	reg.RegisterFunc("noop", taskNoop)
	reg.RegisterFunc("sleep", taskSleep)
}

// taskNoop does nothing and succeeds immediately, echoing its input back
// as output.
func taskNoop(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error) {
	return input, nil
}

// taskSleep interprets input as a duration string (time.ParseDuration
// syntax) and sleeps that long, honoring ctx cancellation. It exists to
// exercise the multi strategy's concurrency budget under load.
func taskSleep(ctx context.Context, tx *store.Tx, input []byte) ([]byte, error) {
	d, err := time.ParseDuration(string(input))
	if err != nil {
		d = time.Second
	}
	select {
	case <-time.After(d):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
