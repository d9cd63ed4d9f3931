// Package ingest loads prepared chunks into the stores the answer pipeline
// reads: embeddings into the vector index and, optionally, chunk text into
// the graph store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/askgeorge/askgeorge/engine/chunkstore"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/semantic"
	"github.com/askgeorge/askgeorge/pkg/fn"
	"github.com/askgeorge/askgeorge/pkg/metrics"
)

// DefaultBatchSize is the number of chunks embedded and written per batch.
const DefaultBatchSize = 500

// Embedder embeds texts in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSink stores embeddings.
type VectorSink interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// SourcePruner removes every vector of a source file.
type SourcePruner interface {
	DeleteBySource(ctx context.Context, sourceFile string) error
}

// ChunkSink stores chunk text.
type ChunkSink interface {
	Save(ctx context.Context, chunks []domain.Chunk) error
}

// Options tunes an Indexer.
type Options struct {
	BatchSize   int
	LoadWorkers int
	Retry       fn.RetryOpts
}

// DefaultOptions returns batches of DefaultBatchSize with three write attempts.
func DefaultOptions() Options {
	return Options{
		BatchSize:   DefaultBatchSize,
		LoadWorkers: 8,
		Retry:       fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Jitter: true},
	}
}

// Deps holds the collaborators of an Indexer. Chunks may be nil.
type Deps struct {
	Loader   chunkstore.Loader
	Embedder Embedder
	Vectors  VectorSink
	Chunks   ChunkSink
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Report summarizes a run.
type Report struct {
	Indexed int
	Skipped int
	Batches int
	Dims    int
}

// Indexer embeds and stores chunks in batches. It is not safe for
// concurrent use.
type Indexer struct {
	deps Deps
	opts Options
	log  *slog.Logger
	dims int // set once the collection exists

	store fn.Stage[[]domain.Chunk, int]
}

// New returns an Indexer. Zero options fall back to DefaultOptions.
func New(deps Deps, opts Options) (*Indexer, error) {
	if deps.Loader == nil || deps.Embedder == nil || deps.Vectors == nil {
		return nil, errors.New("ingest: loader, embedder and vector sink are required")
	}
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.LoadWorkers <= 0 {
		opts.LoadWorkers = def.LoadWorkers
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = def.Retry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	ix := &Indexer{deps: deps, opts: opts, log: log}
	ix.store = fn.TracedStage("ingest.batch", ix.storeBatch)
	return ix, nil
}

// Run hydrates refs, skipping missing and blank chunks, then embeds and
// stores them batch by batch. The collection is created on the first batch
// with the embedding dimension. Embedding and write failures abort the run.
func (ix *Indexer) Run(ctx context.Context, refs []domain.ChunkRef) (Report, error) {
	var rep Report
	for start := 0; start < len(refs); start += ix.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		end := min(start+ix.opts.BatchSize, len(refs))
		chunks, skipped, err := ix.load(ctx, refs[start:end])
		if err != nil {
			return rep, err
		}
		rep.Skipped += skipped
		if len(chunks) == 0 {
			continue
		}

		t0 := time.Now()
		n, err := ix.store(ctx, chunks).Unwrap()
		if err != nil {
			ix.counter("askgeorge_ingest_errors_total", "Batches that failed to index").Inc()
			return rep, fmt.Errorf("ingest: batch %d: %w", rep.Batches+1, err)
		}
		ix.histogram("askgeorge_ingest_batch_duration_seconds", "Time to embed and store a batch").Since(t0)
		ix.counter("askgeorge_ingest_chunks_total", "Chunks indexed").Add(int64(len(chunks)))
		if rep.Dims == 0 {
			rep.Dims = n
		}
		rep.Indexed += len(chunks)
		rep.Batches++
		ix.log.Info("batch indexed", "batch", rep.Batches, "chunks", len(chunks), "indexed", rep.Indexed, "of", len(refs))
	}
	return rep, nil
}

// RemovedSources lists, sorted, the source files referenced in prev but not
// in cur.
func RemovedSources(prev, cur []domain.ChunkRef) []string {
	kept := make(map[string]bool, len(cur))
	for _, r := range cur {
		kept[r.SourceFile] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range prev {
		if !kept[r.SourceFile] && !seen[r.SourceFile] {
			seen[r.SourceFile] = true
			out = append(out, r.SourceFile)
		}
	}
	sort.Strings(out)
	return out
}

// Prune deletes the vectors of every source that left the manifest between
// prev and cur. It is a no-op when the vector sink cannot delete.
func (ix *Indexer) Prune(ctx context.Context, prev, cur []domain.ChunkRef) (int, error) {
	pruner, ok := ix.deps.Vectors.(SourcePruner)
	if !ok {
		return 0, nil
	}
	removed := RemovedSources(prev, cur)
	for i, src := range removed {
		if err := pruner.DeleteBySource(ctx, src); err != nil {
			return i, fmt.Errorf("ingest: prune: %w", err)
		}
		ix.counter("askgeorge_ingest_pruned_sources_total", "Sources removed from the index").Inc()
		ix.log.Info("source pruned", "source_file", src)
	}
	return len(removed), nil
}

type loaded struct {
	chunk domain.Chunk
	err   error
}

// load hydrates refs concurrently. Missing and blank chunks are skipped,
// other loader errors abort.
func (ix *Indexer) load(ctx context.Context, refs []domain.ChunkRef) ([]domain.Chunk, int, error) {
	out := fn.ParMap(refs, ix.opts.LoadWorkers, func(ref domain.ChunkRef) loaded {
		text, err := ix.deps.Loader.Load(ctx, ref)
		if err != nil {
			return loaded{err: err}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return loaded{err: fmt.Errorf("%s: %w", ref.Key(), domain.ErrEmptyChunk)}
		}
		return loaded{chunk: domain.Chunk{ID: ref.ID, SourceFile: ref.SourceFile, Category: ref.Category, Text: text}}
	})

	chunks := make([]domain.Chunk, 0, len(out))
	skipped := 0
	for i, l := range out {
		switch {
		case l.err == nil:
			chunks = append(chunks, l.chunk)
		case errors.Is(l.err, domain.ErrChunkNotFound), errors.Is(l.err, domain.ErrEmptyChunk):
			skipped++
			ix.counter("askgeorge_ingest_skipped_total", "Chunks skipped as missing or blank").Inc()
			ix.log.Warn("chunk skipped", "chunk", refs[i].Key(), "err", l.err)
		default:
			return nil, skipped, fmt.Errorf("ingest: load %s: %w", refs[i].Key(), l.err)
		}
	}
	return chunks, skipped, nil
}

// storeBatch embeds chunks and writes them, returning the vector dimension.
func (ix *Indexer) storeBatch(ctx context.Context, chunks []domain.Chunk) fn.Result[int] {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := fn.Retry(ctx, ix.opts.Retry, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(ix.deps.Embedder.EmbedBatch(ctx, texts))
	}).Unwrap()
	if err != nil {
		return fn.Err[int](fmt.Errorf("embed: %w", err))
	}
	if len(vecs) != len(chunks) || len(vecs[0]) == 0 {
		return fn.Err[int](fmt.Errorf("embed: got %d vectors for %d chunks", len(vecs), len(chunks)))
	}
	dims := len(vecs[0])
	if ix.dims == 0 {
		if err := ix.deps.Vectors.EnsureCollection(ctx, dims); err != nil {
			return fn.Err[int](err)
		}
		ix.dims = dims
	}

	records := make([]semantic.VectorRecord, len(chunks))
	for i, c := range chunks {
		if len(vecs[i]) != ix.dims {
			return fn.Err[int](fmt.Errorf("embed: %s has %d dims, want %d", c.Ref().Key(), len(vecs[i]), ix.dims))
		}
		records[i] = semantic.VectorRecord{Embedding: vecs[i], Ref: c.Ref(), Text: c.Text}
	}
	if r := fn.Retry(ctx, ix.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, ix.deps.Vectors.Upsert(ctx, records))
	}); r.IsErr() {
		_, err := r.Unwrap()
		return fn.Err[int](err)
	}

	if ix.deps.Chunks != nil {
		if err := ix.deps.Chunks.Save(ctx, chunks); err != nil {
			return fn.Err[int](err)
		}
	}
	return fn.Ok(dims)
}

func (ix *Indexer) counter(name, help string) *metrics.Counter {
	if ix.deps.Metrics == nil {
		return &metrics.Counter{}
	}
	return ix.deps.Metrics.Counter(name, help)
}

func (ix *Indexer) histogram(name, help string) *metrics.Histogram {
	if ix.deps.Metrics == nil {
		return &metrics.Histogram{}
	}
	return ix.deps.Metrics.Histogram(name, help, nil)
}
