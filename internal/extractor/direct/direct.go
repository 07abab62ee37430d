// Package direct extracts article content by fetching the page itself,
// without a reader proxy. It is the fallback when no reader service is
// configured.
package direct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/extractor"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// Config controls the direct extractor.
type Config struct {
	UserAgent        string
	RequestTimeout   time.Duration
	MaxContentLength int
}

// Extractor fetches pages with a Colly collector and extracts readable
// text with goquery.
type Extractor struct {
	base   *colly.Collector
	cfg    Config
	logger *zap.Logger
}

// New constructs a direct Extractor.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "newsflow/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Extractor{
		base:   base,
		cfg:    cfg,
		logger: logger,
	}, nil
}

type fetchResult struct {
	status      int
	contentType string
	body        []byte
	err         error
}

// Extract fetches rawURL and parses the document. HTTP 403 and 451 are
// hard blocks; 429, 5xx, and transport errors are transient.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (pipeline.Extraction, error) {
	start := time.Now()

	res, err := e.fetch(ctx, rawURL)
	if err != nil {
		return pipeline.Extraction{}, err
	}
	if err := classifyStatus(res.status); err != nil {
		return pipeline.Extraction{}, err
	}

	title, content, err := parseDocument(res.body)
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("parse document: %w", err)
	}
	content = extractor.Truncate(content, e.cfg.MaxContentLength)

	return pipeline.Extraction{
		URL:         rawURL,
		Title:       title,
		Content:     content,
		ContentType: res.contentType,
		Raw:         res.body,
		Duration:    time.Since(start),
	}, nil
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) (fetchResult, error) {
	collector := e.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		send(fetchResult{
			status:      r.StatusCode,
			contentType: contentType,
			body:        append([]byte{}, r.Body...),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{status: status, err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return fetchResult{}, &pipeline.TransientError{Op: "visit", Err: err}
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return fetchResult{}, err
		}
		if res.err != nil {
			// Colly reports HTTP error statuses through OnError with the
			// response attached; classify those by status, not transport.
			if res.status >= 400 {
				return fetchResult{}, classifyStatus(res.status)
			}
			return fetchResult{}, &pipeline.TransientError{Op: "fetch", Err: res.err}
		}
		return res, nil
	default:
		return fetchResult{}, errors.New("fetch produced no result")
	}
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden || status == http.StatusUnavailableForLegalReasons:
		return &pipeline.BlockError{StatusCode: status, Reason: "host denied access"}
	case status == http.StatusTooManyRequests || status >= 500:
		return &pipeline.TransientError{Op: "fetch", Err: fmt.Errorf("status %d", status)}
	default:
		return fmt.Errorf("fetch returned status %d", status)
	}
}

// parseDocument pulls the title and the visible article text out of HTML.
func parseDocument(body []byte) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		title = strings.TrimSpace(og)
	}

	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var parts []string
	root.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		content = strings.Join(strings.Fields(root.Text()), " ")
	} else {
		content = strings.Join(parts, "\n\n")
	}
	return title, content, nil
}
