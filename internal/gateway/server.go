// Package gateway is the HTTP surface: the channel webhook, the REST
// API, health, and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/intent"
	"github.com/recallhq/recall/internal/observability"
	"github.com/recallhq/recall/internal/reminder"
	"github.com/recallhq/recall/internal/storage"
)

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// Deps are the collaborators the gateway dispatches into.
type Deps struct {
	Stores    storage.StoreSet
	Ingestor  *ingest.Coordinator
	Router    *intent.Router
	Scheduler *reminder.Scheduler
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Server serves the webhook and REST API.
type Server struct {
	cfg        Config
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a gateway server.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "gateway"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("POST /webhook", s.instrument("/webhook", s.handleWebhook))

	mux.HandleFunc("POST /memories", s.instrument("/memories", s.handleCreateMemory))
	mux.HandleFunc("GET /memories", s.instrument("/memories", s.handleSearchMemories))
	mux.HandleFunc("GET /memories/list", s.instrument("/memories/list", s.handleListMemories))
	mux.HandleFunc("GET /interactions/recent", s.instrument("/interactions/recent", s.handleRecentInteractions))
	mux.HandleFunc("GET /analytics/summary", s.instrument("/analytics/summary", s.handleAnalyticsSummary))
	mux.HandleFunc("POST /reminders/{id}/cancel", s.instrument("/reminders/cancel", s.handleCancelReminder))

	return mux
}

// Start listens and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// instrument records request duration and status for a route.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		s.deps.Metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errs.CodeOf(err) == errs.CodeValidation:
		status = http.StatusBadRequest
	case errs.CodeOf(err) == errs.CodeInvalidState:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
