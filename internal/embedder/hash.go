// Package embedder provides the vector generator used for indexing and
// querying. HashEmbedder is a deterministic, non-semantic placeholder: it
// derives a fixed-length vector from a stable content hash of the text, so the
// same text always maps to the same vector in every process. A real embedding
// model can replace it behind the [rag.Embedder] interface.
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/54b3r/leann-go/internal/rag"
)

// DefaultDimensions is the vector length used for the document collection.
const DefaultDimensions = 384

const (
	// stride is added to the seed for each successive dimension.
	stride = 31
	// buckets is the number of distinct values a dimension can take.
	buckets = 1000
)

var _ rag.Embedder = (*HashEmbedder)(nil)

// Vector maps text to size values in [0, 1). Dimension i is
// ((seed + i*31) mod 1000) / 1000 where seed is the 64-bit FNV-1a hash of the
// UTF-8 bytes of text. A non-positive size yields an empty vector.
func Vector(text string, size int) []float32 {
	if size <= 0 {
		return []float32{}
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	base := h.Sum64() % buckets

	vec := make([]float32, size)
	for i := range size {
		step := (uint64(i) % buckets) * stride % buckets
		vec[i] = float32((base+step)%buckets) / buckets
	}
	return vec
}

// HashEmbedder implements rag.Embedder with Vector. It has no state and is
// safe for concurrent use.
type HashEmbedder struct {
	// size is the vector length produced by Embed.
	size int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
func NewHashEmbedder(size int) (*HashEmbedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedder: dimensions must be positive, got %d", size)
	}
	return &HashEmbedder{size: size}, nil
}

// Embed converts each text with Vector. It only fails when ctx is done.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, e.size)
	}
	return out, nil
}

// Dimensions returns the vector length produced by Embed.
func (e *HashEmbedder) Dimensions() int { return e.size }
