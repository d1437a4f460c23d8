// Package server implements the HTTP API that exposes document search.
// It serves /search and /ask over the retrieval service, /index to re-run
// the indexer, and the operational endpoints /health, /ready, and /metrics.
// The server is started by the `leann serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/leann-go/internal/ingestion"
	"github.com/54b3r/leann-go/internal/logging"
	"github.com/54b3r/leann-go/internal/rag"
	"github.com/54b3r/leann-go/internal/store"
)

const (
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20

	// defaultRunsLimit and maxRunsLimit bound GET /index/runs?limit=n.
	defaultRunsLimit = 20
	maxRunsLimit     = 100

	// serviceName is reported by GET /health.
	serviceName = "leann-api"
)

// New constructs a Server from the provided search service and config.
func New(svc searcher, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: search service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		searcher: svc,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal)
	s.stopRL = stop

	if cfg.APIKey == "" {
		log.Warn("API key not set: /search, /ask, and /index are unauthenticated")
	}

	// protected wraps a handler with auth, rate limiting, and metrics.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.wrap(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /search", protected("search", s.handleSearch))
	mux.Handle("POST /ask", protected("ask", s.handleAsk))
	mux.Handle("POST /index", protected("index", s.handleIndex))
	mux.Handle("GET /index/runs", s.instrument("index_runs", authMiddleware(cfg.APIKey, http.HandlerFunc(s.handleRuns))))
	mux.Handle("GET /health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           requestLogger(log, mux),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler, including request logging.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleSearch handles POST /search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	req, ok := s.decodeQuery(w, r, s.metrics.searchRequestsTotal)
	if !ok {
		return
	}

	results, err := s.searcher.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.queryFailed(w, r, "search", s.metrics.searchRequestsTotal, err)
		return
	}
	if results == nil {
		results = []rag.SearchResult{}
	}

	s.metrics.searchRequestsTotal.WithLabelValues(outcomeOK).Inc()
	log.Info("search complete",
		slog.Int("limit", req.Limit),
		slog.Int("results", len(results)),
	)
	writeJSON(r.Context(), w, http.StatusOK, envelope{Success: true, Data: results})
}

// handleAsk handles POST /ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r, s.metrics.askRequestsTotal)
	if !ok {
		return
	}

	ans, err := s.searcher.Ask(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.queryFailed(w, r, "ask", s.metrics.askRequestsTotal, err)
		return
	}

	s.metrics.askRequestsTotal.WithLabelValues(outcomeOK).Inc()
	writeJSON(r.Context(), w, http.StatusOK, envelope{Success: true, Data: ans})
}

// decodeQuery parses a queryRequest, writing a 400 envelope on failure.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request, counter *prometheus.CounterVec) (queryRequest, bool) {
	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		counter.WithLabelValues(outcomeInvalid).Inc()
		writeJSON(r.Context(), w, http.StatusBadRequest, envelope{Error: "invalid request body: " + err.Error()})
		return req, false
	}
	return req, true
}

// queryFailed maps a service error to a response. Invalid queries are client
// errors; everything else (store unreachable, timeout) is reported in a 200
// envelope with success=false.
func (s *Server) queryFailed(w http.ResponseWriter, r *http.Request, op string, counter *prometheus.CounterVec, err error) {
	log := logging.FromContext(r.Context())

	if errors.Is(err, rag.ErrInvalidQuery) {
		counter.WithLabelValues(outcomeInvalid).Inc()
		writeJSON(r.Context(), w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}

	counter.WithLabelValues(outcomeError).Inc()
	log.Error(op+" failed", slog.Any("error", err))
	writeJSON(r.Context(), w, http.StatusOK, envelope{Error: err.Error()})
}

// handleIndex handles POST /index. The pass is detached from the request's
// cancellation so a disconnecting client does not abort a half-written index.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.cfg.Indexer == nil {
		writeJSON(r.Context(), w, http.StatusServiceUnavailable, envelope{Error: "indexing is not configured"})
		return
	}

	res, err := s.cfg.Indexer.Index(context.WithoutCancel(r.Context()), s.cfg.DocumentsDir)
	switch {
	case errors.Is(err, ingestion.ErrIndexInProgress):
		writeJSON(r.Context(), w, http.StatusConflict, envelope{Error: err.Error()})
		return
	case err != nil:
		log.Error("index failed", slog.Any("error", err))
		writeJSON(r.Context(), w, http.StatusOK, envelope{Error: err.Error()})
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, envelope{Success: true, Data: indexResponse{
		Files:      res.Files,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Chunks:     res.Chunks,
		DurationMS: res.Duration.Milliseconds(),
	}})
}

// handleRuns handles GET /index/runs?limit=n.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.cfg.Runs == nil {
		writeJSON(r.Context(), w, http.StatusServiceUnavailable, envelope{Error: "run history is disabled"})
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(r.Context(), w, http.StatusBadRequest, envelope{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.cfg.Runs.Recent(r.Context(), limit)
	if err != nil {
		log.Error("listing index runs failed", slog.Any("error", err))
		writeJSON(r.Context(), w, http.StatusInternalServerError, envelope{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(r.Context(), w, http.StatusOK, envelope{Success: true, Data: runs})
}

// writeJSON encodes body with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}
