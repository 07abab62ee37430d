package pipeline

import (
	"context"
	"time"
)

// LinkStore persists link lifecycle state and is the system of record
// for deduplication and the per-item state machine.
type LinkStore interface {
	// InsertIfAbsent atomically inserts rec keyed by its identity hash.
	// When a record with the same hash already exists it returns
	// created=false and the surviving record's ID.
	InsertIfAbsent(ctx context.Context, rec LinkRecord) (created bool, linkID string, err error)

	// BackfillTitle sets the title of an existing record whose title is empty.
	BackfillTitle(ctx context.Context, identityHash, title string) error

	GetLink(ctx context.Context, linkID string) (LinkRecord, error)

	// ListPending returns pending links ordered by discovery time, oldest first.
	ListPending(ctx context.Context, limit int) ([]LinkRecord, error)

	// CompareAndSetStatus transitions a link from expected to next, stamping
	// last_checked_at. It returns false when the link is not in expected
	// status; this is the claim serialization point for workers.
	CompareAndSetStatus(ctx context.Context, linkID string, expected, next LinkStatus, errText string) (bool, error)

	// MarkCompleted transitions processing -> completed and stores the
	// result in the same logical unit, so a result never exists for a link
	// that is not completed.
	MarkCompleted(ctx context.Context, linkID string, result ProcessedResult) error

	// ResetStuck reclaims processing links whose last_checked_at is older
	// than the threshold, moving them back to pending with the diagnostic
	// message. Returns the number of reclaimed links.
	ResetStuck(ctx context.Context, olderThan time.Duration, message string) (int, error)

	// ResetFailed requeues failed links, optionally only those whose
	// error message carries the retryable marker.
	ResetFailed(ctx context.Context, retryableOnly bool) (int, error)

	// DomainActivity returns, per domain, the most recent last_checked_at
	// among links touched since the given time. The scheduler uses it to
	// reconcile in-memory cooldowns after a restart.
	DomainActivity(ctx context.Context, since time.Time) (map[string]time.Time, error)

	Stats(ctx context.Context) (LinkStats, error)
}

// ResultStore reads processed results for the operator and news surfaces.
type ResultStore interface {
	GetResult(ctx context.Context, linkID string) (ProcessedResult, error)
	ListRecent(ctx context.Context, q NewsQuery) ([]NewsItem, error)
}

// BlacklistStore tracks domains known to reject automated extraction.
type BlacklistStore interface {
	IsBlacklisted(ctx context.Context, domain string) (bool, error)
	// RecordBlock upserts: last write wins for URL, title, and reason.
	RecordBlock(ctx context.Context, entry BlacklistEntry) error
	List(ctx context.Context) ([]BlacklistEntry, error)
	// Clear removes a domain; this is the only way an entry expires.
	Clear(ctx context.Context, domain string) (bool, error)
}

// Extractor fetches the readable content of a URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (Extraction, error)
}

// Enricher cleans, summarizes, and translates extracted content.
type Enricher interface {
	Enrich(ctx context.Context, link LinkRecord, ex Extraction) (Enrichment, error)
}

// ArchiveStore writes raw extraction snapshots and returns a URI.
type ArchiveStore interface {
	SaveSnapshot(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes pipeline events to a topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PromotionDetector decides whether a fetched page warrants a headless retry.
type PromotionDetector interface {
	ShouldPromote(ex Extraction) bool
}

// WorkItem wraps a claimed-candidate link flowing from scheduler to worker.
type WorkItem struct {
	Link     LinkRecord
	Enqueued time.Time
}

// Queue carries work items from the scheduling loop to workers.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
}

// Hasher computes the identity digest of a canonical URL.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces link IDs.
type IDGenerator interface {
	NewID() (string, error)
}
