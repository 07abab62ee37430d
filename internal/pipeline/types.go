// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// LinkStatus represents the lifecycle state of a discovered link.
type LinkStatus string

// Link status values persisted in the link store.
const (
	StatusPending    LinkStatus = "pending"
	StatusProcessing LinkStatus = "processing"
	StatusCompleted  LinkStatus = "completed"
	StatusFailed     LinkStatus = "failed"
)

// Valid reports whether s is one of the known status values.
func (s LinkStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends the link lifecycle.
func (s LinkStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal state change.
// Claiming is pending -> processing; workers finish at completed or failed;
// the reclaim sweep and operator resets move processing/failed back to pending.
func CanTransition(from, to LinkStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	case StatusFailed:
		return to == StatusPending
	default:
		return false
	}
}

// LinkRecord is persisted for each discovered URL.
type LinkRecord struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	IdentityHash  string     `json:"identity_hash"`
	Title         string     `json:"title,omitempty"`
	SourceTask    string     `json:"source_task,omitempty"`
	Status        LinkStatus `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// ProcessedResult holds the enriched content for a completed link.
// A result row exists iff the owning link reached StatusCompleted.
type ProcessedResult struct {
	LinkID          string            `json:"link_id"`
	Title           string            `json:"title,omitempty"`
	LocalizedTitles map[string]string `json:"localized_titles,omitempty"`
	Content         string            `json:"content,omitempty"`
	Translations    map[string]string `json:"translations,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Country         string            `json:"country,omitempty"`
	NewsDate        string            `json:"news_date,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// BlacklistEntry records a domain known to reject automated extraction.
type BlacklistEntry struct {
	Domain    string    `json:"domain"`
	LastURL   string    `json:"last_url"`
	Title     string    `json:"title,omitempty"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Extraction is the payload returned by an Extractor on success.
type Extraction struct {
	URL          string
	Title        string
	Content      string
	Excerpt      string
	ContentType  string
	Raw          []byte
	UsedHeadless bool
	SnapshotURI  string
	Duration     time.Duration
}

// Enrichment is the structured output of the enrichment collaborator.
type Enrichment struct {
	Title           string
	LocalizedTitles map[string]string
	Summary         string
	Translations    map[string]string
	Tags            []string
	Country         string
	NewsDate        string
	Metadata        map[string]any
}

// Registration is returned by the dedup gate for every discovered URL.
type Registration struct {
	Accepted bool   `json:"accepted"`
	LinkID   string `json:"link_id"`
}

// LinkStats aggregates per-status counts for the operator surface.
type LinkStats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Blacklisted int `json:"blacklisted_domains"`
}

// NewsQuery filters the completed-news listing.
type NewsQuery struct {
	Tag     string
	Country string
	Limit   int
	Offset  int
}

// NewsItem joins a completed link with its processed result for read-side listings.
type NewsItem struct {
	LinkID       string            `json:"id"`
	URL          string            `json:"url"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Title        string            `json:"title"`
	Localized    map[string]string `json:"localized_titles,omitempty"`
	Content      string            `json:"content,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Country      string            `json:"country,omitempty"`
	NewsDate     string            `json:"news_date,omitempty"`
}
