package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/app"
)

// Worker periodically reverts targets stuck in dialing back to pending.
// A target strands there when a worker crashes between placing the call
// and recording its outcome; the sweep makes those records dialable
// again once the provider call has certainly expired.
type Worker struct {
	container *app.Container
}

// New creates a new sweep worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run sweeps on an interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config.Dialer
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	staleAfter := cfg.StaleDialAfter
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}

	targets := w.container.Repositories().Targets
	logger := w.container.Logger

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-staleAfter)
			reverted, err := targets.RevertStaleDialing(ctx, cutoff)
			if err != nil {
				logger.Error("sweep worker: revert stale dials", zap.Error(err))
				continue
			}
			if reverted > 0 {
				logger.Info("sweep worker: reverted stale dials", zap.Int64("count", reverted))
			}
		}
	}
}
