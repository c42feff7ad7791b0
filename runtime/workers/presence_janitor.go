package workers

import (
	"context"
	"log/slog"
	"time"
)

type StalePruner interface {
	PruneStale(ctx context.Context) int
}

// PresenceJanitor releases the sessions whose transport closed without a
// disconnect being processed.
type PresenceJanitor struct {
	log      *slog.Logger
	pruner   StalePruner
	interval time.Duration
}

func NewPresenceJanitor(log *slog.Logger, pruner StalePruner, interval time.Duration) *PresenceJanitor {
	return &PresenceJanitor{log: log, pruner: pruner, interval: interval}
}

func (w *PresenceJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := w.pruner.PruneStale(ctx); n > 0 {
				w.log.Warn("Stale sessions pruned", "count", n)
			}
		}
	}
}
