package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/leann-go/internal/chunker"
	"github.com/54b3r/leann-go/internal/embedder"
	"github.com/54b3r/leann-go/internal/extract"
	"github.com/54b3r/leann-go/internal/rag"
	"github.com/54b3r/leann-go/internal/store"
)

// spyStore wraps a MemoryStore and records every Upsert call.
type spyStore struct {
	*rag.MemoryStore

	mu sync.Mutex
	// batches records the size of each Upsert call.
	batches []int
	// err is returned from Upsert when set.
	err error
	// entered is closed on the first Upsert when non-nil.
	entered chan struct{}
	// release blocks Upsert until closed when non-nil.
	release chan struct{}
	once    sync.Once
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: rag.NewMemoryStore()}
}

func (s *spyStore) Upsert(ctx context.Context, points []rag.Point) error {
	s.mu.Lock()
	s.batches = append(s.batches, len(points))
	err := s.err
	s.mu.Unlock()

	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
	}
	if s.release != nil {
		<-s.release
	}
	if err != nil {
		return err
	}
	return s.MemoryStore.Upsert(ctx, points)
}

func (s *spyStore) calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

// failingEmbedder fails for any batch containing the marker text.
type failingEmbedder struct {
	*embedder.HashEmbedder
	marker string
}

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == f.marker {
			return nil, errors.New("embedding backend rejected input")
		}
	}
	return f.HashEmbedder.Embed(ctx, texts)
}

// fakeRecorder collects recorded runs.
type fakeRecorder struct {
	mu   sync.Mutex
	runs []store.Run
}

func (r *fakeRecorder) Record(_ context.Context, run store.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func newEmbedder(t *testing.T) *embedder.HashEmbedder {
	t.Helper()
	e, err := embedder.NewHashEmbedder(embedder.DefaultDimensions)
	require.NoError(t, err)
	return e
}

func newTestPipeline(t *testing.T, vs rag.VectorStore, cfg *Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(extract.New(), newEmbedder(t), vs, cfg)
	require.NoError(t, err)
	return p
}

func smallChunks() *Config {
	return &Config{ChunkSize: 3, ChunkOverlap: 1}
}

func TestIndex_SingleFileScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three four five")

	vs := newSpyStore()
	p := newTestPipeline(t, vs, smallChunks())

	res, err := p.Index(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, []int{2}, vs.calls(), "all points go out in a single upsert")

	n, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	hits, err := vs.Search(ctx, embedder.Vector("one two three", embedder.DefaultDimensions), 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	byID := map[string]rag.Hit{}
	for _, h := range hits {
		byID[h.ID] = h
	}
	first, ok := byID[ChunkID("a.txt", 0)]
	require.True(t, ok, "chunk 0 should be stored under its deterministic id")
	assert.Equal(t, "one two three", first.Payload[rag.PayloadChunkText])
	assert.Equal(t, "a.txt", first.Payload[rag.PayloadFileName])
	assert.Equal(t, filepath.Join(dir, "a.txt"), first.Payload[rag.PayloadFilePath])
	assert.Equal(t, int64(0), first.Payload[rag.PayloadChunkIndex])

	second, ok := byID[ChunkID("a.txt", 1)]
	require.True(t, ok)
	assert.Equal(t, "three four five", second.Payload[rag.PayloadChunkText])
}

func TestIndex_SearchAfterIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three four five")
	writeDoc(t, dir, "notes/b.md", "alpha beta gamma")

	vs := newSpyStore()
	p := newTestPipeline(t, vs, smallChunks())
	_, err := p.Index(ctx, dir)
	require.NoError(t, err)

	svc, err := rag.NewService(newEmbedder(t), vs, nil)
	require.NoError(t, err)

	results, err := svc.Search(ctx, "anything", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 10)

	titles := map[string]bool{}
	for _, r := range results {
		assert.NotEmpty(t, r.Content)
		titles[r.Title] = true
	}
	assert.True(t, titles["a.txt"])
	assert.True(t, titles["b.md"])
}

func TestIndex_MissingDirectory(t *testing.T) {
	t.Parallel()

	vs := newSpyStore()
	rec := &fakeRecorder{}
	p := newTestPipeline(t, vs, &Config{Recorder: rec})

	res, err := p.Index(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Zero(t, res.Files)
	assert.Empty(t, vs.calls(), "no upsert for a missing directory")
	assert.Len(t, rec.runs, 1)
}

func TestIndex_PathIsAFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "text")

	p := newTestPipeline(t, newSpyStore(), nil)
	_, err := p.Index(context.Background(), filepath.Join(dir, "a.txt"))
	assert.Error(t, err)
}

func TestIndex_EmptyDirectory(t *testing.T) {
	t.Parallel()

	vs := newSpyStore()
	p := newTestPipeline(t, vs, nil)

	res, err := p.Index(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Result{Duration: res.Duration}, res)
	assert.Empty(t, vs.calls())
}

func TestIndex_IdempotentReindex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three four five six seven")
	writeDoc(t, dir, "sub/a.txt", "one two three")

	vs := newSpyStore()
	p := newTestPipeline(t, vs, smallChunks())

	first, err := p.Index(ctx, dir)
	require.NoError(t, err)
	before, err := vs.Count(ctx)
	require.NoError(t, err)

	second, err := p.Index(ctx, dir)
	require.NoError(t, err)
	after, err := vs.Count(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, before, after, "re-indexing unchanged documents must not add points")
	assert.Equal(t, uint64(first.Chunks), after, "same-named files in different directories must not collide")
}

func TestChunkID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ChunkID("a.txt", 0), ChunkID("a.txt", 0))
	assert.NotEqual(t, ChunkID("a.txt", 0), ChunkID("a.txt", 1))
	assert.NotEqual(t, ChunkID("a.txt", 0), ChunkID("sub/a.txt", 0))
	assert.Equal(t, "5275672c-07e5-cab9-13d8-8fba3d2c973f", ChunkID("a.txt", 0))
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, ChunkID("x", 3))
}

func TestIndex_SkipsEmptyAndUnsupportedFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three")
	writeDoc(t, dir, "blank.md", "   \n\t ")
	writeDoc(t, dir, "broken.docx", "not a zip archive")
	writeDoc(t, dir, "page.html", "<p>ignored</p>")
	writeDoc(t, dir, "UPPER.TXT", "four five")

	vs := newSpyStore()
	p := newTestPipeline(t, vs, smallChunks())

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Chunks)
}

func TestIndex_EmbeddingFailureIsolatedToFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "bad.txt", "poison")
	writeDoc(t, dir, "good.txt", "one two three")

	vs := newSpyStore()
	emb := &failingEmbedder{HashEmbedder: newEmbedder(t), marker: "poison"}
	p, err := NewPipeline(extract.New(), emb, vs, smallChunks())
	require.NoError(t, err)

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Chunks)
}

func TestIndex_Batching(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// 9 words, size 3 overlap 1 → windows at 0, 2, 4, 6 → 4 chunks.
	writeDoc(t, dir, "a.txt", "w1 w2 w3 w4 w5 w6 w7 w8 w9")
	writeDoc(t, dir, "b.txt", "x1 x2 x3")

	vs := newSpyStore()
	p := newTestPipeline(t, vs, &Config{ChunkSize: 3, ChunkOverlap: 1, BatchSize: 2})

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, []int{2, 2, 1}, vs.calls())
}

func TestIndex_StoreFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three")

	vs := newSpyStore()
	vs.err = errors.New("connection refused")
	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	p := newTestPipeline(t, vs, &Config{Recorder: rec, Registerer: reg})

	res, err := p.Index(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrStoreUnavailable)
	assert.Zero(t, res.Chunks)

	require.Len(t, rec.runs, 1)
	assert.Contains(t, rec.runs[0].Error, "connection refused")
	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.runsTotal.WithLabelValues(outcomeError)), 0)
}

func TestIndex_RecordsRunAndMetrics(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three four five")
	writeDoc(t, dir, "empty.txt", "")

	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	p := newTestPipeline(t, newSpyStore(), &Config{ChunkSize: 3, ChunkOverlap: 1, Recorder: rec, Registerer: reg})

	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, dir, run.Dir)
	assert.Equal(t, 1, run.Files)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 2, run.Chunks)
	assert.Empty(t, run.Error)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.runsTotal.WithLabelValues(outcomeOK)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(p.metrics.chunksTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.filesTotal.WithLabelValues(fileSkipped)), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["leann_index_runs_total"])
	assert.True(t, names["leann_index_chunks_total"])
}

func TestIndex_ConcurrentRunRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three")

	vs := newSpyStore()
	vs.entered = make(chan struct{})
	vs.release = make(chan struct{})
	p := newTestPipeline(t, vs, smallChunks())

	done := make(chan error, 1)
	go func() {
		_, err := p.Index(context.Background(), dir)
		done <- err
	}()

	<-vs.entered
	_, err := p.Index(context.Background(), dir)
	assert.ErrorIs(t, err, ErrIndexInProgress)

	close(vs.release)
	require.NoError(t, <-done)

	// The lock is released once the first pass finishes.
	vs.release = nil
	_, err = p.Index(context.Background(), dir)
	assert.NoError(t, err)
}

func TestIndex_CancelledContext(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "one two three")

	vs := newSpyStore()
	p := newTestPipeline(t, vs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Index(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, vs.calls())
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	ext := extract.New()
	emb := newEmbedder(t)
	vs := rag.NewMemoryStore()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{"overlap equals size", &Config{ChunkSize: 3, ChunkOverlap: 3}},
		{"overlap exceeds size", &Config{ChunkSize: 3, ChunkOverlap: 5}},
		{"negative size", &Config{ChunkSize: -1}},
		{"negative overlap", &Config{ChunkSize: 10, ChunkOverlap: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPipeline(ext, emb, vs, tt.cfg)
			assert.ErrorIs(t, err, chunker.ErrInvalidConfig)
		})
	}

	_, err := NewPipeline(ext, emb, vs, &Config{BatchSize: -1})
	assert.Error(t, err)

	_, err = NewPipeline(nil, emb, vs, nil)
	assert.Error(t, err)
	_, err = NewPipeline(ext, nil, vs, nil)
	assert.Error(t, err)
	_, err = NewPipeline(ext, emb, nil, nil)
	assert.Error(t, err)
}

func TestNewPipeline_Defaults(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(extract.New(), newEmbedder(t), rag.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, chunker.DefaultSize, p.cfg.ChunkSize)
	assert.Equal(t, chunker.DefaultOverlap, p.cfg.ChunkOverlap)
	assert.Equal(t, rag.DefaultStoreTimeout, p.cfg.StoreTimeout)
	assert.ElementsMatch(t, extract.SupportedExtensions, p.extensions)

	p, err = NewPipeline(extract.New(), newEmbedder(t), rag.NewMemoryStore(), &Config{Extensions: []string{"TXT", ".Md"}})
	require.NoError(t, err)
	assert.Equal(t, []string{".txt", ".md"}, p.extensions)
}
