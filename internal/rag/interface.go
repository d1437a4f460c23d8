// Package rag defines the vector-store and embedding contracts used by the
// indexer and the retrieval service, together with their implementations:
// a Qdrant-backed store, an in-memory store, and the Search/Ask service.
// The indexer and HTTP layer depend only on the interfaces declared here, so
// the backend can be swapped (or faked in tests) without touching them.
package rag

import (
	"context"
	"errors"
)

// Payload keys stored alongside every point.
const (
	PayloadFileName   = "file_name"
	PayloadFilePath   = "file_path"
	PayloadChunkText  = "chunk_text"
	PayloadChunkIndex = "chunk_index"
)

var (
	// ErrStoreUnavailable wraps every failure reported by the vector store:
	// unreachable, timed out, or rejected the request.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrInvalidQuery is returned for requests that can never succeed, such as
	// an empty query string. Transports should map it to a client error.
	ErrInvalidQuery = errors.New("invalid query")
)

// Point is a single chunk ready to be written to the vector store.
type Point struct {
	// ID is the deterministic point identifier (UUID string form).
	ID string

	// Vector is the chunk's feature vector.
	Vector []float32

	// Payload carries the chunk metadata (see the Payload* keys).
	Payload map[string]any
}

// Hit is one nearest-neighbour result returned by VectorStore.Search.
type Hit struct {
	// ID is the identifier the point was stored under.
	ID string

	// Score is the similarity reported by the store; higher is more similar.
	Score float32

	// Payload is the metadata stored with the point.
	Payload map[string]any
}

// VectorStore persists points and answers top-k similarity queries.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// EnsureCollection creates the backing collection for vectors of the
	// given dimension if it does not exist yet. Existing collections are left
	// untouched.
	EnsureCollection(ctx context.Context, dimensions uint64) error

	// Upsert writes points, overwriting any existing point with the same ID.
	Upsert(ctx context.Context, points []Point) error

	// Search returns at most limit hits ordered by descending score.
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)

	// Count returns the number of points currently stored.
	Count(ctx context.Context) (uint64, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into fixed-length vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding vectors.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector produced by Embed.
	Dimensions() int
}
