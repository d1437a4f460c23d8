package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLimit is the number of results returned when the caller passes a
	// non-positive limit.
	DefaultLimit = 10

	// DefaultStoreTimeout bounds every vector-store call made by the service.
	DefaultStoreTimeout = 10 * time.Second

	// AnswerMaxChars is the number of characters of concatenated chunk text
	// kept in an Ask answer, before the ellipsis.
	AnswerMaxChars = 500

	// AnswerEllipsis is appended to every non-empty Ask answer.
	AnswerEllipsis = "..."

	// NoResultsAnswer is the Ask answer when the search finds nothing.
	NoResultsAnswer = "No relevant document found."

	// defaultTitle is used when a hit carries no file name.
	defaultTitle = "Document"
)

// SearchResult is a single ranked chunk returned to API clients.
type SearchResult struct {
	// ID is the point identifier in the vector store.
	ID string `json:"id"`
	// Title is the name of the file the chunk came from.
	Title string `json:"title"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Score is the raw similarity score reported by the store.
	Score float32 `json:"score"`
	// Metadata is the full payload stored with the point.
	Metadata map[string]any `json:"metadata"`
}

// Answer is the result of Ask.
type Answer struct {
	// Answer is the concatenated (and truncated) text of the retrieved chunks.
	Answer string `json:"answer"`
}

// ServiceConfig tunes the retrieval service.
type ServiceConfig struct {
	// DefaultLimit replaces non-positive limits. Defaults to DefaultLimit.
	DefaultLimit int
	// StoreTimeout bounds each store query. Defaults to DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// Service answers Search and Ask requests by embedding the query and
// delegating similarity search to the store. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	// embedder converts query text to a vector.
	embedder Embedder
	// store performs the similarity search.
	store VectorStore
	// cfg holds the resolved configuration.
	cfg *ServiceConfig
}

// NewService constructs a Service from the given Embedder and VectorStore.
func NewService(embedder Embedder, store VectorStore, cfg *ServiceConfig) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Service{embedder: embedder, store: store, cfg: cfg}, nil
}

// Search embeds query and returns up to limit results in the store's order.
// A non-positive limit falls back to the configured default.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("rag: %w: query must not be empty", ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	hits, err := s.store.Search(storeCtx, vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", asStoreError(err))
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, toSearchResult(h))
	}
	return results, nil
}

// Ask runs Search and joins the retrieved chunk texts into a single answer.
// The joined text is cut to AnswerMaxChars characters and AnswerEllipsis is
// always appended.
func (s *Service) Ask(ctx context.Context, query string, limit int) (Answer, error) {
	results, err := s.Search(ctx, query, limit)
	if err != nil {
		return Answer{}, err
	}
	if len(results) == 0 {
		return Answer{Answer: NoResultsAnswer}, nil
	}

	contents := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	return Answer{Answer: truncateRunes(strings.Join(contents, " "), AnswerMaxChars) + AnswerEllipsis}, nil
}

// toSearchResult shapes a store hit for API clients.
func toSearchResult(h Hit) SearchResult {
	r := SearchResult{
		ID:       h.ID,
		Title:    defaultTitle,
		Score:    h.Score,
		Metadata: h.Payload,
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	if v, ok := h.Payload[PayloadFileName].(string); ok && v != "" {
		r.Title = v
	}
	if v, ok := h.Payload[PayloadChunkText].(string); ok {
		r.Content = v
	}
	return r
}

// truncateRunes returns the first n characters of s.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// asStoreError makes sure err matches ErrStoreUnavailable. Context deadline
// and cancellation errors from the bounded store call are kept in the chain.
func asStoreError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
