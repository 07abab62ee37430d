// Package noop provides a passthrough enricher for runs without a
// configured language model.
package noop

import (
	"context"

	"github.com/trendradar/newsflow/internal/pipeline"
)

const excerptLimit = 500

// Enricher echoes the extraction without cleaning or translating.
type Enricher struct{}

// New returns a passthrough Enricher.
func New() *Enricher {
	return &Enricher{}
}

// Enrich copies the extracted title and a content excerpt into the result.
func (Enricher) Enrich(_ context.Context, link pipeline.LinkRecord, ex pipeline.Extraction) (pipeline.Enrichment, error) {
	title := ex.Title
	if title == "" {
		title = link.Title
	}
	summary := ex.Excerpt
	if summary == "" {
		summary = ex.Content
		if len(summary) > excerptLimit {
			summary = summary[:excerptLimit]
		}
	}
	return pipeline.Enrichment{Title: title, Summary: summary}, nil
}
