// Package worker drives a single link through the extraction and
// enrichment pipeline, owning all status transitions.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/metrics"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// Outcome is the terminal classification of one processing attempt.
type Outcome string

// Outcome values reported by Process.
const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeFailedRetryable Outcome = "failed_retryable"
	OutcomeFailedPermanent Outcome = "failed_permanent"
	OutcomeBlocked         Outcome = "blocked"
	OutcomeLostClaim       Outcome = "lost_claim"
)

// Config controls Worker behavior.
type Config struct {
	RequestTimeout    time.Duration
	ProcessingTimeout time.Duration
	SnapshotPrefix    string
	Topic             string
}

// Worker consumes queue items and executes the processing pipeline.
type Worker struct {
	queue     pipeline.Queue
	links     pipeline.LinkStore
	blacklist pipeline.BlacklistStore
	extractor pipeline.Extractor
	headless  pipeline.Extractor
	detector  pipeline.PromotionDetector
	enricher  pipeline.Enricher
	archive   pipeline.ArchiveStore
	publisher pipeline.Publisher
	clock     pipeline.Clock
	release   func(domain string)
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. headless, detector, archive, and publisher are
// optional; release is invoked with the item's domain when processing ends.
func New(
	queue pipeline.Queue,
	links pipeline.LinkStore,
	blacklist pipeline.BlacklistStore,
	extractor pipeline.Extractor,
	headless pipeline.Extractor,
	detector pipeline.PromotionDetector,
	enricher pipeline.Enricher,
	archive pipeline.ArchiveStore,
	publisher pipeline.Publisher,
	clock pipeline.Clock,
	release func(domain string),
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if release == nil {
		release = func(string) {}
	}
	return &Worker{
		queue:     queue,
		links:     links,
		blacklist: blacklist,
		extractor: extractor,
		headless:  headless,
		detector:  detector,
		enricher:  enricher,
		archive:   archive,
		publisher: publisher,
		clock:     clock,
		release:   release,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.IncActiveWorkers()
		outcome := w.Process(ctx, item.Link)
		metrics.DecActiveWorkers()
		w.release(pipeline.Domain(item.Link.URL))
		w.logger.Debug("item processed",
			zap.String("link_id", item.Link.ID),
			zap.String("outcome", string(outcome)),
		)
	}
}

// Process drives one link to a terminal state. It never returns an error:
// every failure is recorded on the item so one bad link cannot stall the
// scheduler loop.
func (w *Worker) Process(ctx context.Context, link pipeline.LinkRecord) Outcome {
	claimed, err := w.links.CompareAndSetStatus(ctx, link.ID, pipeline.StatusPending, pipeline.StatusProcessing, "")
	if err != nil {
		w.logger.Error("claim failed", zap.String("link_id", link.ID), zap.Error(err))
		return OutcomeLostClaim
	}
	if !claimed {
		// Another worker got here first; nothing to undo.
		metrics.ObserveClaimRace()
		return OutcomeLostClaim
	}

	domain := pipeline.Domain(link.URL)
	if w.failIfBlacklisted(ctx, link, domain) {
		return w.finish(ctx, link, OutcomeFailedPermanent)
	}

	ex, outcome := w.extract(ctx, link, domain)
	if outcome != "" {
		return w.finish(ctx, link, outcome)
	}

	result, outcome := w.enrich(ctx, link, ex)
	if outcome != "" {
		return w.finish(ctx, link, outcome)
	}

	if err := w.links.MarkCompleted(ctx, link.ID, result); err != nil {
		w.logger.Error("persist result failed", zap.String("link_id", link.ID), zap.Error(err))
		w.fail(ctx, link, pipeline.RetryableMarker+"persist result: "+err.Error())
		return w.finish(ctx, link, OutcomeFailedRetryable)
	}
	return w.finish(ctx, link, OutcomeCompleted)
}

// failIfBlacklisted is the in-flight re-check: the domain may have been
// blacklisted between scheduling and claiming.
func (w *Worker) failIfBlacklisted(ctx context.Context, link pipeline.LinkRecord, domain string) bool {
	blocked, err := w.blacklist.IsBlacklisted(ctx, domain)
	if err != nil {
		w.logger.Warn("blacklist recheck failed", zap.String("domain", domain), zap.Error(err))
		return false
	}
	if !blocked {
		return false
	}
	metrics.ObserveBlacklistSkip()
	w.fail(ctx, link, "domain blacklisted: "+domain)
	return true
}

// extract runs the extractor (with optional headless promotion) and
// classifies the result. An empty outcome means success.
func (w *Worker) extract(ctx context.Context, link pipeline.LinkRecord, domain string) (pipeline.Extraction, Outcome) {
	exCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	ex, err := w.extractor.Extract(exCtx, link.URL)
	if err != nil {
		return pipeline.Extraction{}, w.classifyExtractError(ctx, link, domain, err)
	}
	ex = w.maybePromote(ctx, link, ex)

	if w.archive != nil && len(ex.Raw) > 0 {
		w.archiveSnapshot(ctx, link, &ex)
	}
	return ex, ""
}

func (w *Worker) classifyExtractError(ctx context.Context, link pipeline.LinkRecord, domain string, err error) Outcome {
	if pipeline.IsHardBlock(err) {
		if recordErr := w.blacklist.RecordBlock(ctx, pipeline.BlacklistEntry{
			Domain:  domain,
			LastURL: link.URL,
			Title:   link.Title,
			Reason:  err.Error(),
		}); recordErr != nil {
			w.logger.Error("record block failed", zap.String("domain", domain), zap.Error(recordErr))
		}
		w.fail(ctx, link, err.Error())
		return OutcomeBlocked
	}
	w.fail(ctx, link, pipeline.FailureMessage(err))
	if pipeline.IsTransient(err) {
		return OutcomeFailedRetryable
	}
	return OutcomeFailedPermanent
}

// maybePromote retries the fetch with the headless extractor when the
// first pass looks like an unrendered application shell. The original
// extraction is kept if the promotion fails.
func (w *Worker) maybePromote(ctx context.Context, link pipeline.LinkRecord, ex pipeline.Extraction) pipeline.Extraction {
	if w.headless == nil || w.detector == nil || !w.detector.ShouldPromote(ex) {
		return ex
	}
	promoteCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	promoted, err := w.headless.Extract(promoteCtx, link.URL)
	if err != nil {
		w.logger.Warn("headless promotion failed", zap.String("link_id", link.ID), zap.Error(err))
		return ex
	}
	promoted.UsedHeadless = true
	return promoted
}

func (w *Worker) archiveSnapshot(ctx context.Context, link pipeline.LinkRecord, ex *pipeline.Extraction) {
	path := fmt.Sprintf("%s/%s", w.cfg.SnapshotPrefix, link.ID)
	contentType := ex.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	uri, err := w.archive.SaveSnapshot(ctx, path, contentType, ex.Raw)
	if err != nil {
		// Snapshots are diagnostics, not pipeline state.
		w.logger.Warn("snapshot archive failed", zap.String("link_id", link.ID), zap.Error(err))
		return
	}
	ex.SnapshotURI = uri
}

// enrich calls the enrichment collaborator and assembles the result.
// Every enrichment failure is retryable at the item level: the domain is
// not at fault, and no partial result may survive.
func (w *Worker) enrich(ctx context.Context, link pipeline.LinkRecord, ex pipeline.Extraction) (pipeline.ProcessedResult, Outcome) {
	enrichCtx, cancel := context.WithTimeout(ctx, w.cfg.ProcessingTimeout)
	defer cancel()

	enriched, err := w.enricher.Enrich(enrichCtx, link, ex)
	if err != nil {
		msg := pipeline.FailureMessage(err)
		if !pipeline.IsRetryableMessage(msg) {
			msg = pipeline.RetryableMarker + msg
		}
		w.fail(ctx, link, msg)
		return pipeline.ProcessedResult{}, OutcomeFailedRetryable
	}

	metadata := enriched.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	if ex.SnapshotURI != "" {
		metadata["snapshot_uri"] = ex.SnapshotURI
	}
	if ex.UsedHeadless {
		metadata["used_headless"] = true
	}

	title := enriched.Title
	if title == "" {
		title = ex.Title
	}
	return pipeline.ProcessedResult{
		LinkID:          link.ID,
		Title:           title,
		LocalizedTitles: enriched.LocalizedTitles,
		Content:         enriched.Summary,
		Translations:    enriched.Translations,
		Tags:            enriched.Tags,
		Country:         enriched.Country,
		NewsDate:        enriched.NewsDate,
		Metadata:        metadata,
		CreatedAt:       w.clock.Now(),
	}, ""
}

func (w *Worker) fail(ctx context.Context, link pipeline.LinkRecord, message string) {
	ok, err := w.links.CompareAndSetStatus(ctx, link.ID, pipeline.StatusProcessing, pipeline.StatusFailed, message)
	if err != nil {
		w.logger.Error("fail transition errored", zap.String("link_id", link.ID), zap.Error(err))
		return
	}
	if !ok {
		w.logger.Warn("fail transition lost", zap.String("link_id", link.ID))
	}
}

func (w *Worker) finish(ctx context.Context, link pipeline.LinkRecord, outcome Outcome) Outcome {
	metrics.ObserveOutcome(string(outcome))
	w.publishEvent(ctx, link, outcome)
	return outcome
}

func (w *Worker) publishEvent(ctx context.Context, link pipeline.LinkRecord, outcome Outcome) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"link_id":   link.ID,
		"url":       link.URL,
		"outcome":   string(outcome),
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("event publish failed", zap.String("link_id", link.ID), zap.Error(err))
	}
}
