// Package ingest implements the single deduplication gate for discovered URLs.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/metrics"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// Registrar canonicalizes discovered URLs and registers them exactly once.
// All discovery paths must go through Register; nothing else may create
// link records.
type Registrar struct {
	store  pipeline.LinkStore
	hasher pipeline.Hasher
	idGen  pipeline.IDGenerator
	clock  pipeline.Clock
	logger *zap.Logger
}

// New constructs a Registrar.
func New(
	store pipeline.LinkStore,
	hasher pipeline.Hasher,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Registrar {
	return &Registrar{
		store:  store,
		hasher: hasher,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// Register normalizes rawURL, derives its identity hash, and inserts a link
// record unless one already exists. The insert is the serialization point:
// concurrent registrations of the same canonical URL resolve to one
// surviving record, and losers receive its ID.
func (r *Registrar) Register(ctx context.Context, rawURL, title, sourceTask string) (pipeline.Registration, error) {
	canonical, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return pipeline.Registration{}, fmt.Errorf("normalize url: %w", err)
	}
	identity, err := r.hasher.Hash([]byte(canonical))
	if err != nil {
		return pipeline.Registration{}, fmt.Errorf("hash url: %w", err)
	}
	linkID, err := r.idGen.NewID()
	if err != nil {
		return pipeline.Registration{}, fmt.Errorf("generate link id: %w", err)
	}

	rec := pipeline.LinkRecord{
		ID:           linkID,
		URL:          canonical,
		IdentityHash: identity,
		Title:        title,
		SourceTask:   sourceTask,
		Status:       pipeline.StatusPending,
		DiscoveredAt: r.clock.Now(),
	}
	created, survivorID, err := r.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return pipeline.Registration{}, fmt.Errorf("insert link: %w", err)
	}
	if !created {
		metrics.ObserveRegistration("duplicate")
		// Rediscovery may carry a title the first discovery lacked.
		if title != "" {
			if err := r.store.BackfillTitle(ctx, identity, title); err != nil {
				r.logger.Warn("title backfill failed",
					zap.String("link_id", survivorID),
					zap.Error(err),
				)
			}
		}
		return pipeline.Registration{Accepted: false, LinkID: survivorID}, nil
	}

	metrics.ObserveRegistration("accepted")
	r.logger.Debug("link registered",
		zap.String("link_id", survivorID),
		zap.String("url", canonical),
		zap.String("source_task", sourceTask),
	)
	return pipeline.Registration{Accepted: true, LinkID: survivorID}, nil
}
