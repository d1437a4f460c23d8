package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/leann-go/internal/embedder"
	"github.com/54b3r/leann-go/internal/extract"
	"github.com/54b3r/leann-go/internal/ingestion"
	"github.com/54b3r/leann-go/internal/rag"
	"github.com/54b3r/leann-go/internal/server"
	"github.com/54b3r/leann-go/internal/store"
)

const (
	// defaultCollection is the Qdrant collection used when QDRANT_COLLECTION is unset.
	defaultCollection = "shodobot-docs"
	// defaultDocumentsDir is the documents directory used when LEANN_DOCUMENTS_DIR is unset.
	defaultDocumentsDir = "/app/documents"
	// defaultDataDir holds service state when LEANN_DATA_DIR is unset.
	defaultDataDir = "/app/data"
	// historyDisabled is the LEANN_HISTORY_DB value that turns run history off.
	historyDisabled = "disabled"
)

// backend bundles the long-lived handles every command shares: one vector
// store connection and the embedder used on both the index and query paths.
type backend struct {
	// store is the process-wide vector store.
	store rag.VectorStore
	// embedder produces document and query vectors.
	embedder rag.Embedder
	// pingers probe the store for GET /ready. Empty for the memory backend.
	pingers []server.Pinger
	// storeTimeout bounds each store call.
	storeTimeout time.Duration
}

// Close releases the store connection.
func (b *backend) Close() {
	_ = b.store.Close()
}

// openBackend connects to the store selected by STORE_BACKEND and makes sure
// the collection exists. Any failure here is fatal for the calling command.
func openBackend(ctx context.Context, log *slog.Logger) (*backend, error) {
	emb, err := embedder.NewHashEmbedder(embedder.DefaultDimensions)
	if err != nil {
		return nil, err
	}

	b := &backend{
		embedder:     emb,
		storeTimeout: getEnvDuration("STORE_TIMEOUT", rag.DefaultStoreTimeout),
	}

	switch kind := getEnvOrDefault("STORE_BACKEND", "qdrant"); kind {
	case "memory":
		b.store = rag.NewMemoryStore()
		log.Warn("using in-memory vector store; the index is lost on exit")
	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		collection := getEnvOrDefault("QDRANT_COLLECTION", defaultCollection)

		qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		b.store = qs
		b.pingers = []server.Pinger{server.NewQdrantPinger(qs.Client(), collection)}
		log.Info("qdrant store ready",
			slog.String("host", host),
			slog.Int("port", port),
			slog.String("collection", collection),
		)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (valid: qdrant, memory)", kind)
	}

	setupCtx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()
	if err := b.store.EnsureCollection(setupCtx, uint64(emb.Dimensions())); err != nil { //nolint:gosec // dimensions are a positive constant
		b.Close()
		return nil, fmt.Errorf("collection setup failed: %w", err)
	}

	return b, nil
}

// service builds the retrieval service over the backend.
func (b *backend) service() (*rag.Service, error) {
	return rag.NewService(b.embedder, b.store, &rag.ServiceConfig{StoreTimeout: b.storeTimeout})
}

// pipeline builds the indexing pipeline over the backend. runs may be nil.
func (b *backend) pipeline(runs *store.SQLiteStore, reg prometheus.Registerer) (*ingestion.Pipeline, error) {
	cfg := &ingestion.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
		BatchSize:    getEnvInt("INDEX_BATCH_SIZE", 0),
		StoreTimeout: b.storeTimeout,
		Registerer:   reg,
	}
	if runs != nil {
		cfg.Recorder = runs
	}
	return ingestion.NewPipeline(extract.New(), b.embedder, b.store, cfg)
}

// openRunStore opens the index-run history database. LEANN_HISTORY_DB
// overrides the default path (<LEANN_DATA_DIR>/index.db); the value
// "disabled" turns history off. A nil result means history is unavailable
// and callers carry on without it.
func openRunStore(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("LEANN_HISTORY_DB")
	if dbPath == historyDisabled {
		log.Info("history: disabled via LEANN_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath(getEnvOrDefault("LEANN_DATA_DIR", defaultDataDir))
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}

	rs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return rs
}

// documentsDir returns the configured documents directory.
func documentsDir() string {
	return getEnvOrDefault("LEANN_DOCUMENTS_DIR", defaultDocumentsDir)
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration returns the duration value of the named environment
// variable, or fallback if it is unset, empty, or not parseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
