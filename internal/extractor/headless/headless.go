// Package headless extracts pages that require JavaScript rendering,
// driving headless Chrome through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/extractor"
	"github.com/trendradar/newsflow/internal/pipeline"
)

// ErrDisabled indicates headless extraction has been disabled via
// configuration.
var ErrDisabled = errors.New("headless extraction disabled")

// Config controls the headless extractor.
type Config struct {
	MaxConcurrency   int
	RenderTimeout    time.Duration
	UserAgent        string
	MaxContentLength int
}

// Extractor renders pages in headless Chrome and extracts their content.
// A single browser process is shared; each Extract runs in its own tab.
type Extractor struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	cfg             Config
	logger          *zap.Logger
}

// New starts the shared browser. Callers must Close it on shutdown.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrDisabled
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "newsflow/1.0"
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chrome warmup: %w", err)
	}

	return &Extractor{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// Close tears down the browser and allocator.
func (e *Extractor) Close() {
	if e == nil {
		return
	}
	e.browserCancel()
	e.allocatorCancel()
}

// Extract renders rawURL with JavaScript enabled and returns the rendered
// title and text. A document response of 403 or 451 is a hard block.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (pipeline.Extraction, error) {
	if e == nil {
		return pipeline.Extraction{}, ErrDisabled
	}
	start := time.Now()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return pipeline.Extraction{}, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, e.cfg.RenderTimeout)
	defer cancelTask()
	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	meta := &responseMeta{}
	listenForDocument(tabCtx, meta)

	var title, text, html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(e.cfg.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Text("body", &text, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pipeline.Extraction{}, &pipeline.TransientError{Op: "render", Err: err}
		}
		return pipeline.Extraction{}, fmt.Errorf("render: %w", err)
	}

	if status := meta.status(); status == 403 || status == 451 {
		return pipeline.Extraction{}, &pipeline.BlockError{StatusCode: status, Reason: "host denied rendered access"}
	}

	content := extractor.Truncate(strings.TrimSpace(text), e.cfg.MaxContentLength)

	return pipeline.Extraction{
		URL:          rawURL,
		Title:        strings.TrimSpace(title),
		Content:      content,
		ContentType:  "text/html; charset=utf-8",
		Raw:          []byte(html),
		UsedHeadless: true,
		Duration:     time.Since(start),
	}, nil
}

type responseMeta struct {
	mu         sync.Mutex
	recorded   bool
	statusCode int
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}

func listenForDocument(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.mu.Lock()
		defer meta.mu.Unlock()
		if meta.recorded {
			return
		}
		meta.recorded = true
		meta.statusCode = int(resp.Response.Status)
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
