package rag

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// MemoryStore is an in-process VectorStore using brute-force cosine
// similarity. It keeps upsert semantics (points are keyed by ID) and is meant
// for tests and STORE_BACKEND=memory development runs.
type MemoryStore struct {
	// mu protects every field below.
	mu sync.RWMutex
	// dimensions is fixed by EnsureCollection; zero accepts any length.
	dimensions int
	// points maps point ID to its latest version.
	points map[string]Point
	// order records first-insertion order so equal scores rank stably.
	order []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

// EnsureCollection fixes the vector dimension on first call. Later calls with
// the same dimension are no-ops.
func (s *MemoryStore) EnsureCollection(_ context.Context, dimensions uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := int(dimensions) //nolint:gosec // dimensions are bounded
	if s.dimensions != 0 && s.dimensions != d {
		return fmt.Errorf("memory store: collection has dimension %d, requested %d", s.dimensions, d)
	}
	s.dimensions = d
	return nil
}

// Upsert stores or replaces each point by ID.
func (s *MemoryStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if s.dimensions != 0 && len(p.Vector) != s.dimensions {
			return fmt.Errorf("memory store: point %s has dimension %d, want %d", p.ID, len(p.Vector), s.dimensions)
		}
	}
	for _, p := range points {
		if _, ok := s.points[p.ID]; !ok {
			s.order = append(s.order, p.ID)
		}
		s.points[p.ID] = Point{
			ID:      p.ID,
			Vector:  slices.Clone(p.Vector),
			Payload: cloneMap(p.Payload),
		}
	}
	return nil
}

// Search ranks every stored point by cosine similarity to vector.
func (s *MemoryStore) Search(_ context.Context, vector []float32, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, len(s.order))
	for _, id := range s.order {
		p := s.points[id]
		hits = append(hits, Hit{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: cloneMap(p.Payload),
		})
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count returns the number of distinct point IDs stored.
func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.points)), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero magnitude.
func cosine(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// cloneMap returns a shallow copy of m.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
