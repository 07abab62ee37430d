// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trendradar/newsflow/internal/pipeline"
)

// ErrNotFound is returned when a link or result does not exist.
var ErrNotFound = errors.New("not found")

// LinkStore implements pipeline.LinkStore and pipeline.ResultStore in memory.
type LinkStore struct {
	mu      sync.RWMutex
	links   map[string]pipeline.LinkRecord   // by ID
	byHash  map[string]string                // identity hash -> ID
	results map[string]pipeline.ProcessedResult
	clock   pipeline.Clock
}

// NewLinkStore constructs a LinkStore.
func NewLinkStore(clock pipeline.Clock) *LinkStore {
	return &LinkStore{
		links:   make(map[string]pipeline.LinkRecord),
		byHash:  make(map[string]string),
		results: make(map[string]pipeline.ProcessedResult),
		clock:   clock,
	}
}

// InsertIfAbsent inserts rec unless its identity hash is already known.
func (s *LinkStore) InsertIfAbsent(_ context.Context, rec pipeline.LinkRecord) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byHash[rec.IdentityHash]; ok {
		return false, existing, nil
	}
	if rec.Status == "" {
		rec.Status = pipeline.StatusPending
	}
	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = s.clock.Now()
	}
	s.links[rec.ID] = rec
	s.byHash[rec.IdentityHash] = rec.ID
	return true, rec.ID, nil
}

// BackfillTitle fills in the title of a known link when it is still empty.
func (s *LinkStore) BackfillTitle(_ context.Context, identityHash, title string) error {
	if title == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[identityHash]
	if !ok {
		return ErrNotFound
	}
	link := s.links[id]
	if link.Title == "" {
		link.Title = title
		s.links[id] = link
	}
	return nil
}

// GetLink fetches a link by ID.
func (s *LinkStore) GetLink(_ context.Context, linkID string) (pipeline.LinkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[linkID]
	if !ok {
		return pipeline.LinkRecord{}, ErrNotFound
	}
	return link, nil
}

// ListPending returns pending links ordered oldest-discovered first.
func (s *LinkStore) ListPending(_ context.Context, limit int) ([]pipeline.LinkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.LinkRecord
	for _, link := range s.links {
		if link.Status == pipeline.StatusPending {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompareAndSetStatus transitions expected -> next, stamping last_checked_at.
func (s *LinkStore) CompareAndSetStatus(
	_ context.Context,
	linkID string,
	expected, next pipeline.LinkStatus,
	errText string,
) (bool, error) {
	if !pipeline.CanTransition(expected, next) {
		return false, errors.New("illegal status transition")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return false, ErrNotFound
	}
	if link.Status != expected {
		return false, nil
	}
	now := s.clock.Now()
	link.Status = next
	link.ErrorMessage = errText
	link.LastCheckedAt = &now
	if next.Terminal() {
		link.ProcessedAt = &now
	}
	s.links[linkID] = link
	return true, nil
}

// MarkCompleted stores the result and completes the link atomically.
func (s *LinkStore) MarkCompleted(_ context.Context, linkID string, result pipeline.ProcessedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return ErrNotFound
	}
	if link.Status != pipeline.StatusProcessing {
		return errors.New("link is not processing")
	}
	now := s.clock.Now()
	link.Status = pipeline.StatusCompleted
	link.ErrorMessage = ""
	link.LastCheckedAt = &now
	link.ProcessedAt = &now
	result.LinkID = linkID
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	s.links[linkID] = link
	s.results[linkID] = result
	return nil
}

// ResetStuck reclaims processing links older than the threshold.
func (s *LinkStore) ResetStuck(_ context.Context, olderThan time.Duration, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().Add(-olderThan)
	count := 0
	for id, link := range s.links {
		if link.Status != pipeline.StatusProcessing {
			continue
		}
		if link.LastCheckedAt != nil && link.LastCheckedAt.After(cutoff) {
			continue
		}
		now := s.clock.Now()
		link.Status = pipeline.StatusPending
		link.ErrorMessage = message
		link.LastCheckedAt = &now
		s.links[id] = link
		count++
	}
	return count, nil
}

// ResetFailed requeues failed links for another attempt.
func (s *LinkStore) ResetFailed(_ context.Context, retryableOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, link := range s.links {
		if link.Status != pipeline.StatusFailed {
			continue
		}
		if retryableOnly && !pipeline.IsRetryableMessage(link.ErrorMessage) {
			continue
		}
		now := s.clock.Now()
		link.Status = pipeline.StatusPending
		link.ErrorMessage = ""
		link.LastCheckedAt = &now
		s.links[id] = link
		count++
	}
	return count, nil
}

// DomainActivity reports the latest last_checked_at per domain since the cutoff.
func (s *LinkStore) DomainActivity(_ context.Context, since time.Time) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time)
	for _, link := range s.links {
		if link.LastCheckedAt == nil || link.LastCheckedAt.Before(since) {
			continue
		}
		domain := pipeline.Domain(link.URL)
		if domain == "" {
			continue
		}
		if prev, ok := out[domain]; !ok || link.LastCheckedAt.After(prev) {
			out[domain] = *link.LastCheckedAt
		}
	}
	return out, nil
}

// Stats aggregates per-status counts.
func (s *LinkStore) Stats(_ context.Context) (pipeline.LinkStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := pipeline.LinkStats{}
	for _, link := range s.links {
		stats.Total++
		switch link.Status {
		case pipeline.StatusPending:
			stats.Pending++
		case pipeline.StatusProcessing:
			stats.Processing++
		case pipeline.StatusCompleted:
			stats.Completed++
		case pipeline.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// GetResult returns the processed result for a link.
func (s *LinkStore) GetResult(_ context.Context, linkID string) (pipeline.ProcessedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[linkID]
	if !ok {
		return pipeline.ProcessedResult{}, ErrNotFound
	}
	return result, nil
}

// ListRecent lists completed items newest-discovered first with optional filters.
func (s *LinkStore) ListRecent(_ context.Context, q pipeline.NewsQuery) ([]pipeline.NewsItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []pipeline.NewsItem
	for id, result := range s.results {
		link := s.links[id]
		if q.Tag != "" && !containsFold(result.Tags, q.Tag) {
			continue
		}
		if q.Country != "" && !strings.EqualFold(result.Country, q.Country) {
			continue
		}
		items = append(items, pipeline.NewsItem{
			LinkID:       id,
			URL:          link.URL,
			DiscoveredAt: link.DiscoveredAt,
			Title:        result.Title,
			Localized:    result.LocalizedTitles,
			Content:      result.Content,
			Translations: result.Translations,
			Tags:         result.Tags,
			Country:      result.Country,
			NewsDate:     result.NewsDate,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].DiscoveredAt.After(items[j].DiscoveredAt)
	})
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return nil, nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
