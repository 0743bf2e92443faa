// Package api serves the ledger over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/finledger/internal/ingest"
	"github.com/MikeSquared-Agency/finledger/internal/nlq"
	"github.com/MikeSquared-Agency/finledger/internal/query"
	"github.com/MikeSquared-Agency/finledger/internal/store"
)

// Ingester starts ingestion runs.
type Ingester interface {
	TryRun(ctx context.Context, mode ingest.Mode) (*ingest.Report, error)
}

// RunLister lists past ingestion runs.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Chatter answers chat turns.
type Chatter interface {
	Chat(ctx context.Context, sessionID uuid.UUID, question string) (*nlq.Response, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional collaborators. A nil Ingester or Chatter
// makes the matching endpoint answer 503.
type Options struct {
	APIToken string
	Ingest   Ingester
	Runs     RunLister
	Chat     Chatter
	Health   Pinger
}

type Server struct {
	router *chi.Mux
	port   int
	query  *query.Service
	opts   Options
	http   *http.Server
	logger *slog.Logger
}

func NewServer(port int, q *query.Service, opts Options, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		query:  q,
		opts:   opts,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.APIToken))
		r.Get("/periods", s.listPeriods)
		r.Get("/metrics/timeseries", s.queryMetric)
		r.Get("/metrics/compare", s.comparePeriods)
		r.Get("/breakdown", s.queryBreakdown)
		r.Post("/ingest", s.runIngest)
		r.Get("/ingest/runs", s.listRuns)
		r.Post("/chat", s.chat)
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
