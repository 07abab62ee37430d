package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/trendradar/newsflow/internal/pipeline"
)

// BlacklistStore persists blocked domains in Postgres.
type BlacklistStore struct {
	pool  dbPool
	clock pipeline.Clock
}

// NewBlacklistStore wraps an existing pool; the links store owns the
// schema, so callers construct this after NewLinkStore.
func NewBlacklistStore(pool dbPool, clock pipeline.Clock) (*BlacklistStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &BlacklistStore{pool: pool, clock: clock}, nil
}

// Blacklist returns a BlacklistStore sharing this store's pool.
func (s *LinkStore) Blacklist() *BlacklistStore {
	return &BlacklistStore{pool: s.pool, clock: s.clock}
}

func (s *BlacklistStore) IsBlacklisted(ctx context.Context, domain string) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blacklisted_sites WHERE domain = $1)`,
		strings.ToLower(domain))
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return exists, nil
}

// RecordBlock upserts the domain. The latest block wins for URL, title,
// and reason; created_at keeps the first sighting.
func (s *BlacklistStore) RecordBlock(ctx context.Context, entry pipeline.BlacklistEntry) error {
	now := s.clock.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blacklisted_sites (domain, last_url, title, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (domain) DO UPDATE SET
			last_url = EXCLUDED.last_url,
			title = EXCLUDED.title,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at`,
		strings.ToLower(entry.Domain), entry.LastURL, entry.Title, entry.Reason, now,
	)
	if err != nil {
		return fmt.Errorf("record block: %w", err)
	}
	return nil
}

func (s *BlacklistStore) List(ctx context.Context) ([]pipeline.BlacklistEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT domain, last_url, title, reason, created_at, updated_at
		FROM blacklisted_sites ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var out []pipeline.BlacklistEntry
	for rows.Next() {
		var entry pipeline.BlacklistEntry
		if err := rows.Scan(&entry.Domain, &entry.LastURL, &entry.Title,
			&entry.Reason, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	return out, nil
}

func (s *BlacklistStore) Clear(ctx context.Context, domain string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM blacklisted_sites WHERE domain = $1`, strings.ToLower(domain))
	if err != nil {
		return false, fmt.Errorf("clear blacklist entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
