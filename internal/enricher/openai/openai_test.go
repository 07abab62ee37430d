package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/pipeline"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func newEnricher(t *testing.T, srv *httptest.Server) *Enricher {
	t.Helper()
	e, err := New(Config{
		Endpoint: srv.URL + "/v1/chat/completions",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestEnrichParsesStructuredReply(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(chatReply(`{
			"title": "CPI rises 0.3% in July",
			"localized_titles": {"es": "El IPC sube un 0,3% en julio"},
			"summary": "Consumer prices rose moderately.",
			"translations": {"es": "Los precios al consumidor subieron moderadamente."},
			"tags": ["economy", "inflation"],
			"country": "us",
			"news_date": "2026-07-15"
		}`))
	}))
	t.Cleanup(srv.Close)

	e := newEnricher(t, srv)
	got, err := e.Enrich(context.Background(),
		pipeline.LinkRecord{URL: "https://example.com/story"},
		pipeline.Extraction{Title: "CPI rises", Content: "Consumer prices rose 0.3% in July."},
	)
	require.NoError(t, err)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "CPI rises 0.3% in July", got.Title)
	require.Equal(t, "Consumer prices rose moderately.", got.Summary)
	require.Equal(t, []string{"economy", "inflation"}, got.Tags)
	require.Equal(t, "US", got.Country)
	require.Equal(t, "2026-07-15", got.NewsDate)
}

func TestSystemPromptCoversConfiguredLanguages(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(chatReply(`{"title":"T","summary":"S"}`))
	}))
	t.Cleanup(srv.Close)

	e, err := New(Config{
		Endpoint:  srv.URL,
		Model:     "gpt-4o-mini",
		Languages: []string{"en", "fr"},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = e.Enrich(context.Background(), pipeline.LinkRecord{}, pipeline.Extraction{Content: "body"})
	require.NoError(t, err)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "system", gotReq.Messages[0].Role)
	require.Contains(t, gotReq.Messages[0].Content, "en, fr")
}

func TestSystemPromptDefaultsLanguages(t *testing.T) {
	require.Contains(t, systemPrompt(nil), "en, zh, ms")
}

func TestEnrichToleratesCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chatReply("```json\n{\"title\":\"T\",\"summary\":\"S\"}\n```"))
	}))
	t.Cleanup(srv.Close)

	e := newEnricher(t, srv)
	got, err := e.Enrich(context.Background(), pipeline.LinkRecord{}, pipeline.Extraction{Content: "body"})
	require.NoError(t, err)
	require.Equal(t, "T", got.Title)
	require.Equal(t, "S", got.Summary)
}

func TestEnrichAuthFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	e := newEnricher(t, srv)
	_, err := e.Enrich(context.Background(), pipeline.LinkRecord{}, pipeline.Extraction{Content: "body"})
	require.Error(t, err)
	require.True(t, pipeline.IsTransient(err))
}

func TestEnrichRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	e := newEnricher(t, srv)
	_, err := e.Enrich(context.Background(), pipeline.LinkRecord{}, pipeline.Extraction{Content: "body"})
	require.Error(t, err)
	require.True(t, pipeline.IsTransient(err))
}

func TestEnrichGarbageReplyIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chatReply("I could not process this article."))
	}))
	t.Cleanup(srv.Close)

	e := newEnricher(t, srv)
	_, err := e.Enrich(context.Background(), pipeline.LinkRecord{}, pipeline.Extraction{Content: "body"})
	require.Error(t, err)
	require.True(t, pipeline.IsTransient(err))
}

func TestNewRequiresEndpointAndModel(t *testing.T) {
	_, err := New(Config{Model: "m"}, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{Endpoint: "http://x"}, zap.NewNop())
	require.Error(t, err)
}
