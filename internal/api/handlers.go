package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/pipeline"
	memstore "github.com/trendradar/newsflow/internal/storage/memory"
	pgstore "github.com/trendradar/newsflow/internal/storage/postgres"
)

type registerRequest struct {
	SourceTask string         `json:"source_task"`
	Links      []registerLink `json:"links"`
}

type registerLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type registerResult struct {
	URL      string `json:"url"`
	Accepted bool   `json:"accepted"`
	LinkID   string `json:"link_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) registerLinks(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Links) == 0 {
		writeError(w, http.StatusBadRequest, "at least one link required")
		return
	}

	accepted := 0
	results := make([]registerResult, 0, len(req.Links))
	for _, link := range req.Links {
		reg, err := s.registrar.Register(r.Context(), link.URL, link.Title, req.SourceTask)
		if err != nil {
			results = append(results, registerResult{URL: link.URL, Error: err.Error()})
			continue
		}
		if reg.Accepted {
			accepted++
		}
		results = append(results, registerResult{URL: link.URL, Accepted: reg.Accepted, LinkID: reg.LinkID})
	}

	if accepted > 0 && s.cfg.Pipeline.AutoProcessAfterDiscovery && s.dispatcher != nil {
		s.dispatcher.Kick()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":   accepted,
		"duplicates": len(req.Links) - accepted - countErrors(results),
		"results":    results,
	})
}

func countErrors(results []registerResult) int {
	n := 0
	for _, res := range results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "link_id")
	link, err := s.links.GetLink(r.Context(), linkID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "link not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch link")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "link_id")
	result, err := s.results.GetResult(r.Context(), linkID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resetLink requeues a single failed or processing link.
func (s *Server) resetLink(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "link_id")
	link, err := s.links.GetLink(r.Context(), linkID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "link not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch link")
		return
	}
	if !pipeline.CanTransition(link.Status, pipeline.StatusPending) {
		writeError(w, http.StatusConflict, "link is not resettable in status "+string(link.Status))
		return
	}
	ok, err := s.links.CompareAndSetStatus(r.Context(), linkID, link.Status, pipeline.StatusPending, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset link")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "link changed status concurrently")
		return
	}
	if s.dispatcher != nil {
		s.dispatcher.Kick()
	}
	writeJSON(w, http.StatusOK, map[string]string{"link_id": linkID, "status": string(pipeline.StatusPending)})
}

type processRequest struct {
	RequeueFailed bool `json:"requeue_failed"`
	RetryableOnly bool `json:"retryable_only"`
}

// process kicks the dispatcher, optionally requeueing failed links first.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	requeued := 0
	if req.RequeueFailed {
		n, err := s.links.ResetFailed(r.Context(), req.RetryableOnly)
		if err != nil {
			s.logger.Error("requeue failed links", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to requeue links")
			return
		}
		requeued = n
	}
	if s.dispatcher != nil {
		s.dispatcher.Kick()
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"requeued": requeued})
}

func (s *Server) recoverStuck(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "recovery sweep not configured")
		return
	}
	n, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": n})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.links.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.blacklist.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list blacklist")
		return
	}
	if entries == nil {
		entries = []pipeline.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": entries})
}

func (s *Server) clearBlacklist(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	removed, err := s.blacklist.Clear(r.Context(), domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear blacklist entry")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "domain not blacklisted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"domain": domain, "status": "cleared"})
}

func (s *Server) listNews(w http.ResponseWriter, r *http.Request) {
	q := pipeline.NewsQuery{
		Tag:     r.URL.Query().Get("tag"),
		Country: r.URL.Query().Get("country"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	items, err := s.results.ListRecent(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list news")
		return
	}
	if items == nil {
		items = []pipeline.NewsItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func isNotFound(err error) bool {
	return errors.Is(err, pgstore.ErrNotFound) || errors.Is(err, memstore.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
