package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/leann-go/internal/ingestion"
	"github.com/54b3r/leann-go/internal/rag"
	"github.com/54b3r/leann-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full indexing pass triggered by POST /index.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready.
	// If empty, /ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// Indexer runs indexing passes for POST /index. If nil the endpoint
	// reports that indexing is not configured.
	Indexer indexer
	// DocumentsDir is the directory POST /index scans.
	DocumentsDir string
	// Runs lists recent indexing passes for GET /index/runs. If nil the
	// endpoint reports that run history is disabled.
	Runs runLister
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the query and indexing routes.
	// If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// searcher is the retrieval surface used by the query handlers.
// *rag.Service satisfies it; tests inject a fake.
type searcher interface {
	// Search returns up to limit results for query.
	Search(ctx context.Context, query string, limit int) ([]rag.SearchResult, error)
	// Ask returns the concatenated answer for query.
	Ask(ctx context.Context, query string, limit int) (rag.Answer, error)
}

// indexer runs an indexing pass. *ingestion.Pipeline satisfies it.
type indexer interface {
	Index(ctx context.Context, dir string) (ingestion.Result, error)
}

// runLister lists recent indexing passes. *store.SQLiteStore satisfies it.
type runLister interface {
	Recent(ctx context.Context, n int) ([]store.Run, error)
}

// Server is the HTTP server that exposes the search service.
type Server struct {
	// searcher answers /search and /ask.
	searcher searcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /ready.
	pingers []Pinger
	// metrics holds the Prometheus metrics owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /search and POST /ask.
type queryRequest struct {
	// Query is the free-text query.
	Query string `json:"query"`
	// Limit is the maximum number of results. Zero or absent uses the default.
	Limit int `json:"limit,omitempty"`
}

// envelope is the JSON body of every /search, /ask, and /index response.
type envelope struct {
	// Success is false when Error is set.
	Success bool `json:"success"`
	// Data is the operation result on success.
	Data any `json:"data,omitempty"`
	// Error is the failure description.
	Error string `json:"error,omitempty"`
}

// indexResponse is the data payload of a successful POST /index.
type indexResponse struct {
	// Files is the number of files indexed.
	Files int `json:"files"`
	// Skipped is the number of files with no extractable text.
	Skipped int `json:"skipped"`
	// Failed is the number of files that could not be processed.
	Failed int `json:"failed"`
	// Chunks is the number of chunks written.
	Chunks int `json:"chunks"`
	// DurationMS is the pass duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// healthResponse is the JSON body returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
