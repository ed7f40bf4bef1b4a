// Package maintenance runs periodic housekeeping against the local store
package maintenance

import (
	"context"
	"time"

	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

// DefaultInterval is how often expired local sign-ins are pruned
const DefaultInterval = time.Hour

// Pruner removes expired auth sessions and reports how many went
type Pruner interface {
	PruneAuthSessions(ctx context.Context) (int64, error)
}

// Worker handles background pruning of expired local auth sessions
type Worker struct {
	store    Pruner
	reporter telemetry.Reporter
	interval time.Duration
}

// NewWorker creates a new background maintenance worker
func NewWorker(store Pruner, reporter telemetry.Reporter, interval time.Duration) *Worker {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		store:    store,
		reporter: reporter,
		interval: interval,
	}
}

// Start runs one pass immediately, then one per interval until ctx ends
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce prunes expired sessions and returns the number removed
func (w *Worker) RunOnce(ctx context.Context) int64 {
	n, err := w.store.PruneAuthSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.reporter.Failure("maintenance.prune_sessions", err)
		}
		return 0
	}
	if n > 0 {
		w.reporter.Event("maintenance.prune_sessions", "removed", n)
	}
	return n
}
