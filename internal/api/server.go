// Package api exposes the operator HTTP interface for the pipeline.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/config"
	"github.com/trendradar/newsflow/internal/ingest"
	"github.com/trendradar/newsflow/internal/metrics"
	"github.com/trendradar/newsflow/internal/pipeline"
	"github.com/trendradar/newsflow/internal/recovery"
)

// Dispatcher is the subset of the scheduling loop the API needs.
type Dispatcher interface {
	Kick()
}

// Server wires HTTP handlers to the registrar, stores, and pipeline loops.
type Server struct {
	router     chi.Router
	registrar  *ingest.Registrar
	links      pipeline.LinkStore
	results    pipeline.ResultStore
	blacklist  pipeline.BlacklistStore
	dispatcher Dispatcher
	sweeper    *recovery.Sweeper
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registrar *ingest.Registrar,
	links pipeline.LinkStore,
	results pipeline.ResultStore,
	blacklist pipeline.BlacklistStore,
	dispatcher Dispatcher,
	sweeper *recovery.Sweeper,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		registrar:  registrar,
		links:      links,
		results:    results,
		blacklist:  blacklist,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/links", func(r chi.Router) {
			r.Post("/", s.registerLinks)
			r.Route("/{link_id}", func(r chi.Router) {
				r.Get("/", s.getLink)
				r.Get("/result", s.getResult)
				r.Post("/reset", s.resetLink)
			})
		})
		r.Post("/process", s.process)
		r.Post("/recover", s.recoverStuck)
		r.Get("/stats", s.stats)
		r.Route("/blacklist", func(r chi.Router) {
			r.Get("/", s.listBlacklist)
			r.Delete("/{domain}", s.clearBlacklist)
		})
		r.Get("/news", s.listNews)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness means the link store answers queries.
	if _, err := s.links.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "link store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
