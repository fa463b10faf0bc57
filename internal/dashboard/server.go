// Package dashboard serves persisted replay results and Prometheus metrics over HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/state"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

// Server is the status HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	runs      storage.ResultReader
	gatherer  prometheus.Gatherer
	logger    logrus.FieldLogger
	addr      string
	authToken string
}

// Config holds the listen address and an optional shared token.
type Config struct {
	Addr      string
	AuthToken string
}

// RunSummary is the list view of a run, without its trades.
type RunSummary struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Params     map[string]float64 `json:"params,omitempty"`
	RunID      string             `json:"run_id"`
	Label      string             `json:"label,omitempty"`
	Symbol     string             `json:"symbol"`
	Statistics state.Statistics   `json:"statistics"`
}

// NewServer creates a server. gatherer may be nil to omit /metrics.
func NewServer(cfg Config, runs storage.ResultReader, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		runs:      runs,
		gatherer:  gatherer,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router.Get("/api/runs", s.handleListRuns)
	s.router.Get("/api/runs/{id}", s.handleGetRun)
	s.router.Get("/api/runs/{id}/trades", s.handleGetTrades)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Infof("Starting dashboard server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.runs.Runs()
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, summarize(r))
	}
	s.writeJSON(w, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (storage.RunRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.runs.Run(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return storage.RunRecord{}, false
	}
	if err != nil {
		s.logger.WithError(err).WithField("run_id", id).Error("Failed to load run")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return storage.RunRecord{}, false
	}
	return rec, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if rec, ok := s.lookup(w, r); ok {
		s.writeJSON(w, summarize(rec))
	}
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if rec, ok := s.lookup(w, r); ok {
		s.writeJSON(w, rec.Trades)
	}
}

func summarize(r storage.RunRecord) RunSummary {
	return RunSummary{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Start:      r.Start,
		End:        r.End,
		Params:     r.Params,
		RunID:      r.RunID,
		Label:      r.Label,
		Symbol:     r.Symbol,
		Statistics: r.Statistics,
	}
}
