// Package extractor composes the concrete extraction strategies.
package extractor

import (
	"context"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/pipeline"
)

// Fallback tries a primary extractor and falls back to a secondary when
// the primary fails for reasons that do not condemn the domain. Hard
// blocks propagate immediately so the blacklist sees them.
type Fallback struct {
	primary   pipeline.Extractor
	secondary pipeline.Extractor
	logger    *zap.Logger
}

// NewFallback composes two extractors.
func NewFallback(primary, secondary pipeline.Extractor, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Extract(ctx context.Context, rawURL string) (pipeline.Extraction, error) {
	ex, err := f.primary.Extract(ctx, rawURL)
	if err == nil {
		return ex, nil
	}
	if pipeline.IsHardBlock(err) || f.secondary == nil {
		return pipeline.Extraction{}, err
	}
	f.logger.Debug("primary extraction failed, trying fallback",
		zap.String("url", rawURL), zap.Error(err))

	fallbackEx, fallbackErr := f.secondary.Extract(ctx, rawURL)
	if fallbackErr != nil {
		// The primary's classification drives retry handling.
		return pipeline.Extraction{}, err
	}
	return fallbackEx, nil
}
