// Package reader extracts article content through a reader proxy service
// that converts pages to markdown (Jina Reader compatible).
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/extractor"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// Config controls the reader client.
type Config struct {
	BaseURL          string
	APIKey           string
	MaxContentLength int
	Timeout          time.Duration
}

// Extractor fetches readable content via the reader proxy.
type Extractor struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a reader Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Extractor{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type readerResponse struct {
	Code int `json:"code"`
	Data struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Content     string `json:"content"`
	} `json:"data"`
}

// Extract proxies the URL through the reader service. Access-denied and
// legal-restriction statuses are hard blocks against the whole domain;
// rate limits, server errors, and network failures are transient.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (pipeline.Extraction, error) {
	start := time.Now()
	endpoint := e.cfg.BaseURL + "/" + rawURL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("build reader request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return pipeline.Extraction{}, &pipeline.TransientError{Op: "reader request", Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return pipeline.Extraction{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.Extraction{}, &pipeline.TransientError{Op: "read reader response", Err: err}
	}

	var parsed readerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return pipeline.Extraction{}, fmt.Errorf("decode reader response: %w", err)
	}

	content := extractor.Truncate(parsed.Data.Content, e.cfg.MaxContentLength)

	return pipeline.Extraction{
		URL:         rawURL,
		Title:       parsed.Data.Title,
		Content:     content,
		Excerpt:     parsed.Data.Description,
		ContentType: "text/markdown; charset=utf-8",
		Raw:         body,
		Duration:    time.Since(start),
	}, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden || status == http.StatusUnavailableForLegalReasons:
		return &pipeline.BlockError{StatusCode: status, Reason: "reader denied access"}
	case status == http.StatusTooManyRequests || status >= 500:
		return &pipeline.TransientError{
			Op:  "reader request",
			Err: fmt.Errorf("status %d", status),
		}
	default:
		return fmt.Errorf("reader returned status %d", status)
	}
}
