// Package dispatcher runs the scheduling loop, moving dispatchable links
// from the store onto the worker queue.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/pipeline"
	"github.com/trendradar/newsflow/internal/scheduler"
)

// Dispatcher polls the scheduler and feeds the worker queue. Operators can
// force an immediate poll with Kick.
type Dispatcher struct {
	scheduler *scheduler.DomainScheduler
	queue     pipeline.Queue
	clock     pipeline.Clock
	interval  time.Duration
	kick      chan struct{}
	logger    *zap.Logger
}

func New(
	sched *scheduler.DomainScheduler,
	queue pipeline.Queue,
	clock pipeline.Clock,
	pollInterval time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		scheduler: sched,
		queue:     queue,
		clock:     clock,
		interval:  pollInterval,
		kick:      make(chan struct{}, 1),
		logger:    logger,
	}
}

// Kick requests an immediate scheduling pass. It never blocks; a pass
// already pending absorbs the request.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run polls until the context finishes. After a non-empty batch it polls
// again immediately so a deep backlog drains at queue speed rather than
// at the poll interval.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		n, err := d.dispatchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("scheduling pass failed", zap.Error(err))
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
	}
}

func (d *Dispatcher) dispatchOnce(ctx context.Context) (int, error) {
	batch, err := d.scheduler.NextBatch(ctx)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	enqueued := 0
	for i, link := range batch {
		item := pipeline.WorkItem{Link: link, Enqueued: d.clock.Now()}
		if err := d.queue.Enqueue(ctx, item); err != nil {
			// NextBatch claimed a domain slot for every batch member; give
			// back the slots of everything that never reached the queue.
			for _, rest := range batch[i:] {
				d.scheduler.Release(pipeline.Domain(rest.URL))
			}
			return enqueued, err
		}
		enqueued++
		d.logger.Debug("link dispatched",
			zap.String("link_id", link.ID),
			zap.String("url", link.URL),
		)
	}
	return enqueued, nil
}
