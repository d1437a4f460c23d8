// Package ingestion implements the document indexing pipeline.
// It walks a documents directory, extracts text from every supported file,
// chunks the text, embeds each chunk, and upserts the results into the vector
// store. This pipeline is invoked at server startup, by POST /index, by the
// file watcher, and by the `leann index` CLI command.
package ingestion

import (
	"context"
	"crypto/md5" //nolint:gosec // point ids, not a security boundary
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/leann-go/internal/chunker"
	"github.com/54b3r/leann-go/internal/extract"
	"github.com/54b3r/leann-go/internal/logging"
	"github.com/54b3r/leann-go/internal/rag"
	"github.com/54b3r/leann-go/internal/store"
)

// ErrIndexInProgress is returned by Index when another pass is already
// running on the same Pipeline.
var ErrIndexInProgress = errors.New("ingestion: indexing already in progress")

// Extractor turns a file into plain text. It returns "" when the file has no
// usable text or cannot be read; it never fails the pass.
type Extractor interface {
	Extract(ctx context.Context, path string) string
}

// RunRecorder persists a summary of each indexing pass.
type RunRecorder interface {
	Record(ctx context.Context, run store.Run) error
}

// Config holds the configuration for the indexing pipeline.
type Config struct {
	// ChunkSize is the number of words per chunk.
	// Defaults to chunker.DefaultSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of words shared by consecutive chunks.
	// Defaults to chunker.DefaultOverlap when ChunkSize is also zero.
	ChunkOverlap int

	// BatchSize is the maximum number of points per upsert call.
	// Zero sends every point of the pass in a single call.
	BatchSize int

	// StoreTimeout bounds each upsert call.
	// Defaults to rag.DefaultStoreTimeout if zero.
	StoreTimeout time.Duration

	// Extensions lists the file extensions to index, compared case-insensitively.
	// Defaults to extract.SupportedExtensions if empty.
	Extensions []string

	// Recorder receives a store.Run after every pass. Optional.
	Recorder RunRecorder

	// Registerer receives the pipeline metrics. When nil the metrics are
	// registered into a private registry and are not exported.
	Registerer prometheus.Registerer
}

// Result summarises one indexing pass.
type Result struct {
	// Files is the number of files that produced at least one chunk.
	Files int `json:"files"`

	// Skipped is the number of files whose extraction yielded no text.
	Skipped int `json:"skipped"`

	// Failed is the number of files that could not be chunked or embedded.
	Failed int `json:"failed"`

	// Chunks is the number of chunks written to the vector store.
	Chunks int `json:"chunks"`

	// Duration is the wall-clock time of the pass.
	Duration time.Duration `json:"-"`
}

// Pipeline orchestrates the extract → chunk → embed → upsert flow over a
// documents directory. A Pipeline runs at most one pass at a time.
type Pipeline struct {
	// extractor converts files into text.
	extractor Extractor

	// embedder converts text chunks into vectors.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg Config

	// extensions is the lower-cased set of indexable extensions.
	extensions []string

	// metrics records pass outcomes.
	metrics *pipelineMetrics

	// mu serialises passes; Index uses TryLock so callers never queue.
	mu sync.Mutex
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// An invalid chunk configuration is rejected with chunker.ErrInvalidConfig.
func NewPipeline(extractor Extractor, embedder rag.Embedder, vs rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = chunker.DefaultOverlap
		}
	}
	if err := chunker.Validate(c.ChunkSize, c.ChunkOverlap); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if c.BatchSize < 0 {
		return nil, fmt.Errorf("ingestion: batch size must not be negative, got %d", c.BatchSize)
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = rag.DefaultStoreTimeout
	}
	if len(c.Extensions) == 0 {
		c.Extensions = extract.SupportedExtensions
	}
	exts := make([]string, 0, len(c.Extensions))
	for _, e := range c.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}

	reg := c.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Pipeline{
		extractor:  extractor,
		embedder:   embedder,
		store:      vs,
		cfg:        c,
		extensions: exts,
		metrics:    newPipelineMetrics(reg),
	}, nil
}

// ChunkID returns the deterministic point id for chunk index of docName: the
// MD5 digest of "<docName>_<index>" laid out as a UUID.
func ChunkID(docName string, index int) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s_%d", docName, index)) //nolint:gosec // see import
	return uuid.UUID(sum).String()
}

// Index runs one pass over dir. A missing directory is logged and yields a
// zero Result with a nil error. Per-file problems are logged and counted;
// only vector store failures and cancellation abort the pass. Index returns
// ErrIndexInProgress immediately if another pass is running.
func (p *Pipeline) Index(ctx context.Context, dir string) (Result, error) {
	if !p.mu.TryLock() {
		p.metrics.runsTotal.WithLabelValues(outcomeBusy).Inc()
		return Result{}, ErrIndexInProgress
	}
	defer p.mu.Unlock()

	log := logging.FromContext(ctx).With(slog.String("dir", dir))
	ctx = logging.WithLogger(ctx, log)

	started := time.Now()
	res, err := p.index(ctx, dir)
	res.Duration = time.Since(started)

	p.observe(res, err)
	p.record(ctx, dir, started, res, err)

	if err != nil {
		log.Error("indexing failed",
			slog.Int("chunks", res.Chunks),
			slog.Duration("duration", res.Duration),
			slog.Any("error", err),
		)
		return res, err
	}
	log.Info("indexing complete",
		slog.Int("files", res.Files),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Int("chunks", res.Chunks),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// index performs the pass without locking or bookkeeping.
func (p *Pipeline) index(ctx context.Context, dir string) (Result, error) {
	log := logging.FromContext(ctx)
	var res Result

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("documents directory does not exist")
		return res, nil
	case err != nil:
		return res, fmt.Errorf("ingestion: stat %s: %w", dir, err)
	case !info.IsDir():
		return res, fmt.Errorf("ingestion: %s is not a directory", dir)
	}

	files, err := p.collect(ctx, dir)
	if err != nil {
		return res, err
	}

	pending := make([]rag.Point, 0, max(p.cfg.BatchSize, 0))
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := p.upsert(ctx, pending); err != nil {
			return err
		}
		res.Chunks += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("ingestion: %w", err)
		}

		points, status := p.pointsFor(ctx, dir, path)
		switch status {
		case statusSkipped:
			res.Skipped++
			continue
		case statusFailed:
			res.Failed++
			continue
		}
		res.Files++

		for _, pt := range points {
			pending = append(pending, pt)
			if p.cfg.BatchSize > 0 && len(pending) >= p.cfg.BatchSize {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
	}

	if res.Files == 0 {
		log.Info("no documents to index",
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
		)
		return res, nil
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// collect returns every indexable file under dir in lexical order.
// Unreadable subtrees are logged and skipped.
func (p *Pipeline) collect(ctx context.Context, dir string) ([]string, error) {
	log := logging.FromContext(ctx)
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				return err
			}
			log.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.Any("error", err),
			)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if slices.Contains(p.extensions, strings.ToLower(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", dir, err)
	}
	return files, nil
}

// fileStatus classifies the outcome of preparing a single file.
type fileStatus int

const (
	statusIndexed fileStatus = iota
	statusSkipped
	statusFailed
)

// pointsFor extracts, chunks, and embeds one file. It never returns an error:
// problems are logged and reported through the status.
func (p *Pipeline) pointsFor(ctx context.Context, root, path string) ([]rag.Point, fileStatus) {
	log := logging.FromContext(ctx).With(slog.String("path", path))

	text := p.extractor.Extract(ctx, path)
	if strings.TrimSpace(text) == "" {
		log.Info("skipping file with no extractable text")
		return nil, statusSkipped
	}

	chunks, err := chunker.Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		log.Warn("chunking failed", slog.Any("error", err))
		return nil, statusFailed
	}
	if len(chunks) == 0 {
		return nil, statusSkipped
	}

	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		log.Warn("embedding failed", slog.Any("error", err))
		return nil, statusFailed
	}
	if len(vectors) != len(chunks) {
		log.Warn("embedder returned wrong number of vectors",
			slog.Int("chunks", len(chunks)),
			slog.Int("vectors", len(vectors)),
		)
		return nil, statusFailed
	}

	docName := documentName(root, path)
	fileName := filepath.Base(path)
	points := make([]rag.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = rag.Point{
			ID:     ChunkID(docName, i),
			Vector: vectors[i],
			Payload: map[string]any{
				rag.PayloadFileName:   fileName,
				rag.PayloadFilePath:   path,
				rag.PayloadChunkText:  chunk,
				rag.PayloadChunkIndex: int64(i),
			},
		}
	}
	log.Debug("prepared file", slog.Int("chunks", len(points)))
	return points, statusIndexed
}

// documentName is path relative to root with forward slashes, falling back to
// the base name if path is not under root.
func documentName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// upsert writes points under the configured store timeout.
func (p *Pipeline) upsert(ctx context.Context, points []rag.Point) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	if err := p.store.Upsert(ctx, points); err != nil {
		if !errors.Is(err, rag.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", rag.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("ingestion: upsert %d points: %w", len(points), err)
	}
	logging.FromContext(ctx).Debug("upserted batch", slog.Int("points", len(points)))
	return nil
}

// observe updates the pass metrics.
func (p *Pipeline) observe(res Result, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	p.metrics.runsTotal.WithLabelValues(outcome).Inc()
	p.metrics.durationSeconds.WithLabelValues(outcome).Observe(res.Duration.Seconds())
	p.metrics.chunksTotal.Add(float64(res.Chunks))
	p.metrics.filesTotal.WithLabelValues(fileIndexed).Add(float64(res.Files))
	p.metrics.filesTotal.WithLabelValues(fileSkipped).Add(float64(res.Skipped))
	p.metrics.filesTotal.WithLabelValues(fileFailed).Add(float64(res.Failed))
}

// record hands the pass summary to the configured recorder. The write uses a
// context detached from cancellation so aborted passes are still recorded.
func (p *Pipeline) record(ctx context.Context, dir string, started time.Time, res Result, runErr error) {
	if p.cfg.Recorder == nil {
		return
	}
	run := store.Run{
		Dir:        dir,
		StartedAt:  started,
		FinishedAt: started.Add(res.Duration),
		Files:      res.Files,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Chunks:     res.Chunks,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.cfg.Recorder.Record(rctx, run); err != nil {
		logging.FromContext(ctx).Warn("failed to record index run", slog.Any("error", err))
	}
}
