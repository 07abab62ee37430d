// Package scheduler converts the pending backlog into a bounded, polite
// stream of work partitioned by domain.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trendradar/newsflow/internal/metrics"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// Config controls batch shape and per-domain pacing.
type Config struct {
	MaxConcurrentDomains int
	SameDomainDelay      time.Duration
	BatchLimit           int
}

// DomainScheduler selects eligible pending links. At most one item per
// domain is in flight at a time, domains respect a cooldown between
// dispatches, and blacklisted domains are never offered.
type DomainScheduler struct {
	store     pipeline.LinkStore
	blacklist pipeline.BlacklistStore
	clock     pipeline.Clock
	logger    *zap.Logger
	cfg       Config

	mu       sync.Mutex
	inflight map[string]struct{}
	limiters map[string]*rate.Limiter
}

// New constructs a DomainScheduler.
func New(
	store pipeline.LinkStore,
	blacklist pipeline.BlacklistStore,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *DomainScheduler {
	if cfg.MaxConcurrentDomains <= 0 {
		cfg.MaxConcurrentDomains = 3
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &DomainScheduler{
		store:     store,
		blacklist: blacklist,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		inflight:  make(map[string]struct{}),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Reconcile seeds per-domain cooldowns from durable state so a restart
// cannot violate the inter-request delay. Each domain touched within the
// delay window has one token consumed as of its last activity.
func (s *DomainScheduler) Reconcile(ctx context.Context) error {
	if s.cfg.SameDomainDelay <= 0 {
		return nil
	}
	since := s.clock.Now().Add(-s.cfg.SameDomainDelay)
	activity, err := s.store.DomainActivity(ctx, since)
	if err != nil {
		return fmt.Errorf("load domain activity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for domain, last := range activity {
		s.limiterLocked(domain).AllowN(last, 1)
	}
	s.logger.Debug("scheduler reconciled", zap.Int("domains", len(activity)))
	return nil
}

// NextBatch returns the next wave of work: at most MaxConcurrentDomains
// links, one per eligible domain, oldest-discovered first.
func (s *DomainScheduler) NextBatch(ctx context.Context) ([]pipeline.LinkRecord, error) {
	pending, err := s.store.ListPending(ctx, s.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	var batch []pipeline.LinkRecord
	seen := make(map[string]struct{})
	blacklisted := make(map[string]bool)
	reserved := make(map[string]*rate.Reservation)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A mid-pass store error must not strand slots claimed earlier in the
	// same pass: no link was handed out, so undo this pass's bookkeeping.
	rollback := func() {
		for domain, res := range reserved {
			res.CancelAt(now)
			delete(s.inflight, domain)
		}
	}

	for _, link := range pending {
		if len(batch) >= s.cfg.MaxConcurrentDomains {
			break
		}
		domain := pipeline.Domain(link.URL)
		if domain == "" {
			continue
		}
		if _, picked := seen[domain]; picked {
			continue
		}
		if _, busy := s.inflight[domain]; busy {
			seen[domain] = struct{}{}
			continue
		}
		verdict, known := blacklisted[domain]
		if !known {
			verdict, err = s.blacklist.IsBlacklisted(ctx, domain)
			if err != nil {
				rollback()
				return nil, fmt.Errorf("blacklist lookup: %w", err)
			}
			blacklisted[domain] = verdict
		}
		if verdict {
			seen[domain] = struct{}{}
			metrics.ObserveBlacklistSkip()
			continue
		}
		res := s.limiterLocked(domain).ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			seen[domain] = struct{}{}
			metrics.ObserveCooldownSkip(domain, delay)
			continue
		}
		seen[domain] = struct{}{}
		s.inflight[domain] = struct{}{}
		reserved[domain] = res
		batch = append(batch, link)
	}

	metrics.ObserveBatchSize(len(batch))
	return batch, nil
}

// Release marks a domain's in-flight item as finished, allowing the domain
// to be offered again once its cooldown elapses.
func (s *DomainScheduler) Release(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, domain)
}

func (s *DomainScheduler) limiterLocked(domain string) *rate.Limiter {
	lim, ok := s.limiters[domain]
	if !ok {
		limit := rate.Inf
		if s.cfg.SameDomainDelay > 0 {
			limit = rate.Every(s.cfg.SameDomainDelay)
		}
		lim = rate.NewLimiter(limit, 1)
		s.limiters[domain] = lim
	}
	return lim
}
