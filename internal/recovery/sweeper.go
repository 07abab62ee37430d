// Package recovery reclaims work orphaned by crashed or hung workers.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/metrics"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// ReclaimMessage is stamped on links the sweep returns to pending. The
// retryable marker keeps them eligible for operator requeue filters.
const ReclaimMessage = pipeline.RetryableMarker + "reclaimed: processing exceeded stale threshold"

// Sweeper periodically returns stale processing links to pending.
type Sweeper struct {
	store     pipeline.LinkStore
	threshold time.Duration
	interval  time.Duration
	onReclaim func()
	logger    *zap.Logger
}

// New constructs a Sweeper. onReclaim, when non-nil, runs after every
// sweep that reclaimed at least one link (the server uses it to kick the
// dispatcher).
func New(store pipeline.LinkStore, threshold, interval time.Duration, onReclaim func(), logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		threshold: threshold,
		interval:  interval,
		onReclaim: onReclaim,
		logger:    logger,
	}
}

// Run sweeps on the configured interval until the context finishes. One
// sweep runs immediately at startup to recover work orphaned by the
// previous process.
func (s *Sweeper) Run(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("startup sweep failed", zap.Error(err))
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep reclaims stale processing links once and reports how many moved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.ResetStuck(ctx, s.threshold, ReclaimMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ObserveStuckReclaimed(n)
		s.logger.Info("stale processing links reclaimed", zap.Int("count", n))
		if s.onReclaim != nil {
			s.onReclaim()
		}
	}
	return n, nil
}
