package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/trendradar/newsflow/internal/pipeline"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// GetResult returns the processed result for a completed link.
func (s *LinkStore) GetResult(ctx context.Context, linkID string) (pipeline.ProcessedResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT link_id, title, localized_titles, content, translations, tags, country, news_date, metadata, created_at
		FROM processed_content WHERE link_id = $1`, linkID)

	var res pipeline.ProcessedResult
	var localized, translations, tags, metadata []byte
	err := row.Scan(&res.LinkID, &res.Title, &localized, &res.Content,
		&translations, &tags, &res.Country, &res.NewsDate, &metadata, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.ProcessedResult{}, ErrNotFound
	}
	if err != nil {
		return pipeline.ProcessedResult{}, fmt.Errorf("get result: %w", err)
	}
	if err := json.Unmarshal(localized, &res.LocalizedTitles); err != nil {
		return pipeline.ProcessedResult{}, fmt.Errorf("decode localized titles: %w", err)
	}
	if err := json.Unmarshal(translations, &res.Translations); err != nil {
		return pipeline.ProcessedResult{}, fmt.Errorf("decode translations: %w", err)
	}
	if err := json.Unmarshal(tags, &res.Tags); err != nil {
		return pipeline.ProcessedResult{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
		return pipeline.ProcessedResult{}, fmt.Errorf("decode metadata: %w", err)
	}
	return res, nil
}

// ListRecent lists completed news newest-first, with optional tag and
// country filters.
func (s *LinkStore) ListRecent(ctx context.Context, q pipeline.NewsQuery) ([]pipeline.NewsItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	builder := psql.
		Select("l.id", "l.url", "l.discovered_at",
			"c.title", "c.localized_titles", "c.content", "c.translations",
			"c.tags", "c.country", "c.news_date").
		From("processed_content c").
		Join("news_links l ON l.id = c.link_id").
		OrderBy("l.discovered_at DESC").
		Limit(uint64(limit))
	if q.Offset > 0 {
		builder = builder.Offset(uint64(q.Offset))
	}
	if q.Country != "" {
		builder = builder.Where(sq.Eq{"c.country": q.Country})
	}
	if q.Tag != "" {
		tagJSON, err := json.Marshal([]string{q.Tag})
		if err != nil {
			return nil, fmt.Errorf("encode tag filter: %w", err)
		}
		builder = builder.Where("c.tags @> ?", tagJSON)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build news query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	var out []pipeline.NewsItem
	for rows.Next() {
		var item pipeline.NewsItem
		var localized, translations, tags []byte
		if err := rows.Scan(&item.LinkID, &item.URL, &item.DiscoveredAt,
			&item.Title, &localized, &item.Content, &translations,
			&tags, &item.Country, &item.NewsDate); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		if err := json.Unmarshal(localized, &item.Localized); err != nil {
			return nil, fmt.Errorf("decode localized titles: %w", err)
		}
		if err := json.Unmarshal(translations, &item.Translations); err != nil {
			return nil, fmt.Errorf("decode translations: %w", err)
		}
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	return out, nil
}
