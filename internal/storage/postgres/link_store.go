// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trendradar/newsflow/internal/pipeline"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// LinkStore persists link lifecycle state and processed results in
// Postgres. It implements pipeline.LinkStore and pipeline.ResultStore.
type LinkStore struct {
	pool  dbPool
	clock pipeline.Clock
}

// NewLinkStore connects a pool from cfg and ensures the schema exists.
func NewLinkStore(ctx context.Context, cfg Config, clock pipeline.Clock) (*LinkStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &LinkStore{pool: pool, clock: clock}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewLinkStoreWithPool constructs a store from an existing pool
// (primarily for testing). It does not touch the schema.
func NewLinkStoreWithPool(pool dbPool, clock pipeline.Clock) (*LinkStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LinkStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *LinkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist.
func (s *LinkStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS news_links (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			url_hash TEXT NOT NULL UNIQUE,
			domain TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source_task TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			discovered_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			last_checked_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS news_links_status_discovered_idx
			ON news_links (status, discovered_at)`,
		`CREATE INDEX IF NOT EXISTS news_links_domain_checked_idx
			ON news_links (domain, last_checked_at)`,
		`CREATE TABLE IF NOT EXISTS processed_content (
			link_id TEXT PRIMARY KEY REFERENCES news_links(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT '',
			localized_titles JSONB NOT NULL DEFAULT '{}',
			content TEXT NOT NULL DEFAULT '',
			translations JSONB NOT NULL DEFAULT '{}',
			tags JSONB NOT NULL DEFAULT '[]',
			country TEXT NOT NULL DEFAULT '',
			news_date TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blacklisted_sites (
			domain TEXT PRIMARY KEY,
			last_url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertIfAbsent inserts rec keyed by its identity hash. The unique
// constraint on url_hash serializes concurrent registrations; exactly
// one caller sees created=true.
func (s *LinkStore) InsertIfAbsent(ctx context.Context, rec pipeline.LinkRecord) (bool, string, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO news_links (id, url, url_hash, domain, title, source_task, status, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url_hash) DO NOTHING
		RETURNING id`,
		rec.ID, rec.URL, rec.IdentityHash, pipeline.Domain(rec.URL),
		rec.Title, rec.SourceTask, string(pipeline.StatusPending), rec.DiscoveredAt,
	)
	var id string
	err := row.Scan(&id)
	if err == nil {
		return true, id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, "", fmt.Errorf("insert link: %w", err)
	}

	row = s.pool.QueryRow(ctx, `SELECT id FROM news_links WHERE url_hash = $1`, rec.IdentityHash)
	if err := row.Scan(&id); err != nil {
		return false, "", fmt.Errorf("lookup existing link: %w", err)
	}
	return false, id, nil
}

func (s *LinkStore) BackfillTitle(ctx context.Context, identityHash, title string) error {
	if title == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE news_links SET title = $2 WHERE url_hash = $1 AND title = ''`,
		identityHash, title,
	)
	if err != nil {
		return fmt.Errorf("backfill title: %w", err)
	}
	return nil
}

const linkColumns = `id, url, url_hash, title, source_task, status, error_message, discovered_at, processed_at, last_checked_at`

func scanLink(row pgx.Row) (pipeline.LinkRecord, error) {
	var rec pipeline.LinkRecord
	err := row.Scan(
		&rec.ID, &rec.URL, &rec.IdentityHash, &rec.Title, &rec.SourceTask,
		&rec.Status, &rec.ErrorMessage, &rec.DiscoveredAt, &rec.ProcessedAt, &rec.LastCheckedAt,
	)
	if err != nil {
		return pipeline.LinkRecord{}, err
	}
	return rec, nil
}

func (s *LinkStore) GetLink(ctx context.Context, linkID string) (pipeline.LinkRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM news_links WHERE id = $1`, linkID)
	rec, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.LinkRecord{}, ErrNotFound
	}
	if err != nil {
		return pipeline.LinkRecord{}, fmt.Errorf("get link: %w", err)
	}
	return rec, nil
}

func (s *LinkStore) ListPending(ctx context.Context, limit int) ([]pipeline.LinkRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM news_links
		WHERE status = $1 ORDER BY discovered_at ASC LIMIT $2`,
		string(pipeline.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []pipeline.LinkRecord
	for rows.Next() {
		rec, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending link: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

// CompareAndSetStatus moves linkID from expected to next in one guarded
// update. The WHERE clause on the current status is the claim
// serialization point across workers.
func (s *LinkStore) CompareAndSetStatus(ctx context.Context, linkID string, expected, next pipeline.LinkStatus, errText string) (bool, error) {
	if !pipeline.CanTransition(expected, next) {
		return false, fmt.Errorf("illegal transition %s -> %s", expected, next)
	}
	now := s.clock.Now()
	var processedAt any
	if next.Terminal() {
		processedAt = now
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE news_links
		SET status = $3, error_message = $4, last_checked_at = $5,
			processed_at = COALESCE($6, processed_at)
		WHERE id = $1 AND status = $2`,
		linkID, string(expected), string(next), errText, now, processedAt,
	)
	if err != nil {
		return false, fmt.Errorf("set status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finishes a processing link and stores its result in one
// transaction, so a result row never exists without a completed link.
func (s *LinkStore) MarkCompleted(ctx context.Context, linkID string, result pipeline.ProcessedResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.clock.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE news_links
		SET status = $2, error_message = '', last_checked_at = $3, processed_at = $3
		WHERE id = $1 AND status = $4`,
		linkID, string(pipeline.StatusCompleted), now, string(pipeline.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete link: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("link %s is not processing", linkID)
	}

	localized, err := json.Marshal(orEmptyMap(result.LocalizedTitles))
	if err != nil {
		return fmt.Errorf("marshal localized titles: %w", err)
	}
	translations, err := json.Marshal(orEmptyMap(result.Translations))
	if err != nil {
		return fmt.Errorf("marshal translations: %w", err)
	}
	tags, err := json.Marshal(orEmptySlice(result.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metadata, err := json.Marshal(orEmptyAnyMap(result.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO processed_content
			(link_id, title, localized_titles, content, translations, tags, country, news_date, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		linkID, result.Title, localized, result.Content, translations, tags,
		result.Country, result.NewsDate, metadata, createdAt,
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *LinkStore) ResetStuck(ctx context.Context, olderThan time.Duration, message string) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE news_links
		SET status = $1, error_message = $2
		WHERE status = $3 AND last_checked_at < $4`,
		string(pipeline.StatusPending), message, string(pipeline.StatusProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *LinkStore) ResetFailed(ctx context.Context, retryableOnly bool) (int, error) {
	query := `
		UPDATE news_links
		SET status = $1, error_message = ''
		WHERE status = $2`
	args := []any{string(pipeline.StatusPending), string(pipeline.StatusFailed)}
	if retryableOnly {
		query += ` AND error_message LIKE $3`
		args = append(args, pipeline.RetryableMarker+"%")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *LinkStore) DomainActivity(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT domain, MAX(last_checked_at)
		FROM news_links
		WHERE last_checked_at >= $1
		GROUP BY domain`,
		since)
	if err != nil {
		return nil, fmt.Errorf("domain activity: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var domain string
		var last time.Time
		if err := rows.Scan(&domain, &last); err != nil {
			return nil, fmt.Errorf("scan domain activity: %w", err)
		}
		out[domain] = last
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("domain activity: %w", err)
	}
	return out, nil
}

func (s *LinkStore) Stats(ctx context.Context) (pipeline.LinkStats, error) {
	var stats pipeline.LinkStats
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			(SELECT COUNT(*) FROM blacklisted_sites)
		FROM news_links`)
	if err := row.Scan(&stats.Total, &stats.Pending, &stats.Processing,
		&stats.Completed, &stats.Failed, &stats.Blacklisted); err != nil {
		return pipeline.LinkStats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
