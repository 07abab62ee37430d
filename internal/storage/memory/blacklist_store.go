package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/trendradar/newsflow/internal/pipeline"
)

// BlacklistStore implements pipeline.BlacklistStore in memory.
type BlacklistStore struct {
	mu      sync.RWMutex
	entries map[string]pipeline.BlacklistEntry
	clock   pipeline.Clock
}

// NewBlacklistStore constructs a BlacklistStore.
func NewBlacklistStore(clock pipeline.Clock) *BlacklistStore {
	return &BlacklistStore{
		entries: make(map[string]pipeline.BlacklistEntry),
		clock:   clock,
	}
}

// IsBlacklisted reports whether domain has a suppression entry.
func (s *BlacklistStore) IsBlacklisted(_ context.Context, domain string) (bool, error) {
	if domain == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[strings.ToLower(domain)]
	return ok, nil
}

// RecordBlock upserts the entry for a domain; last write wins.
func (s *BlacklistStore) RecordBlock(_ context.Context, entry pipeline.BlacklistEntry) error {
	key := strings.ToLower(entry.Domain)
	if key == "" {
		key = entry.LastURL
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		existing.LastURL = entry.LastURL
		existing.Title = entry.Title
		existing.Reason = entry.Reason
		existing.UpdatedAt = now
		s.entries[key] = existing
		return nil
	}
	entry.Domain = key
	entry.CreatedAt = now
	entry.UpdatedAt = now
	s.entries[key] = entry
	return nil
}

// List returns all entries ordered by domain.
func (s *BlacklistStore) List(_ context.Context) ([]pipeline.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.BlacklistEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// Clear removes a domain's entry, returning whether one existed.
func (s *BlacklistStore) Clear(_ context.Context, domain string) (bool, error) {
	key := strings.ToLower(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}
