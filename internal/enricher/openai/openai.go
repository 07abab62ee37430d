// Package openai enriches extracted articles through an OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/pipeline"
)

const defaultSystemPrompt = `You are a news processing assistant. Given the title and body of a news article, respond with a single JSON object and nothing else, using these keys:
"title": the cleaned article title,
"localized_titles": object mapping ISO 639-1 language codes to translated titles,
"summary": a concise summary of the article in its original language,
"translations": object mapping ISO 639-1 language codes to translated summaries,
"tags": array of short topical tags,
"country": ISO 3166-1 alpha-2 code of the country the news concerns, or "" if unclear,
"news_date": the publication date as YYYY-MM-DD, or "" if unclear.`

var defaultLanguages = []string{"en", "zh", "ms"}

// Config controls the enrichment client.
type Config struct {
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
	// Languages are the ISO 639-1 codes localized_titles and translations
	// must cover. Ignored when SystemPrompt is set explicitly.
	Languages    []string
	Timeout      time.Duration
	MaxBodyChars int
}

// Enricher cleans, summarizes, and translates extracted content.
type Enricher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Enricher from configuration.
func New(cfg Config, logger *zap.Logger) (*Enricher, error) {
	if cfg.Endpoint == "" || cfg.Model == "" {
		return nil, fmt.Errorf("enricher misconfigured: endpoint and model are required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = systemPrompt(cfg.Languages)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = 12000
	}
	return &Enricher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

func systemPrompt(languages []string) string {
	if len(languages) == 0 {
		languages = defaultLanguages
	}
	return defaultSystemPrompt +
		"\nProvide \"localized_titles\" and \"translations\" entries for exactly these language codes: " +
		strings.Join(languages, ", ") + "."
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type enrichmentPayload struct {
	Title           string            `json:"title"`
	LocalizedTitles map[string]string `json:"localized_titles"`
	Summary         string            `json:"summary"`
	Translations    map[string]string `json:"translations"`
	Tags            []string          `json:"tags"`
	Country         string            `json:"country"`
	NewsDate        string            `json:"news_date"`
}

// Enrich sends the extraction to the model and parses the structured
// reply. Auth failures, rate limits, and server errors are transient so
// the item can be requeued once the upstream recovers.
func (e *Enricher) Enrich(ctx context.Context, link pipeline.LinkRecord, ex pipeline.Extraction) (pipeline.Enrichment, error) {
	title := ex.Title
	if title == "" {
		title = link.Title
	}
	content := ex.Content
	if len(content) > e.cfg.MaxBodyChars {
		content = content[:e.cfg.MaxBodyChars]
	}

	userMsg := fmt.Sprintf("URL: %s\nTitle: %s\n\n%s", link.URL, title, content)
	body, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: e.cfg.SystemPrompt},
			{Role: "user", Content: userMsg},
		},
	})
	if err != nil {
		return pipeline.Enrichment{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.Enrichment{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return pipeline.Enrichment{}, &pipeline.TransientError{Op: "chat request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return pipeline.Enrichment{}, &pipeline.TransientError{
			Op:  "chat request",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pipeline.Enrichment{}, &pipeline.TransientError{Op: "decode chat response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return pipeline.Enrichment{}, &pipeline.TransientError{
			Op:  "chat response",
			Err: fmt.Errorf("no choices returned"),
		}
	}

	payload, err := parsePayload(parsed.Choices[0].Message.Content)
	if err != nil {
		return pipeline.Enrichment{}, &pipeline.TransientError{Op: "parse enrichment", Err: err}
	}

	if payload.Title == "" {
		payload.Title = title
	}
	return pipeline.Enrichment{
		Title:           payload.Title,
		LocalizedTitles: payload.LocalizedTitles,
		Summary:         payload.Summary,
		Translations:    payload.Translations,
		Tags:            payload.Tags,
		Country:         strings.ToUpper(payload.Country),
		NewsDate:        payload.NewsDate,
		Metadata: map[string]any{
			"model": e.cfg.Model,
		},
	}, nil
}

// parsePayload tolerates models that wrap the JSON object in a markdown
// code fence or surrounding prose.
func parsePayload(content string) (enrichmentPayload, error) {
	var payload enrichmentPayload
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return payload, fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return payload, fmt.Errorf("decode model reply: %w", err)
	}
	return payload, nil
}
