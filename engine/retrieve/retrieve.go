// Package retrieve implements adaptive retrieval: classify the question,
// pick how many passages to fetch, embed and search, hydrate the hits from
// the chunk store and optionally rerank them with a language model.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/askgeorge/askgeorge/engine/classify"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/semantic"
	"github.com/askgeorge/askgeorge/pkg/fn"
	"github.com/askgeorge/askgeorge/pkg/metrics"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex returns up to k nearest neighbours of a vector.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]semantic.Neighbor, error)
}

// ChunkSource resolves a reference to its passage.
type ChunkSource interface {
	Get(ctx context.Context, ref domain.ChunkRef) (domain.Chunk, error)
}

// Generator produces text for a prompt and never fails; failures come back
// as warning text.
type Generator interface {
	Generate(ctx context.Context, prompt string) string
}

// Options configures retrieval.
type Options struct {
	KTable          KTable
	EmbedCacheSize  int
	EmbedRetry      fn.RetryOpts
	SearchTimeout   time.Duration
	AllowList       *AllowList // nil disables filtering
	RerankTopN      int
	RerankWorkers   int
	MalformedScores MalformedPolicy
	Metrics         *metrics.Registry
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		KTable:         DefaultKTable,
		EmbedCacheSize: 128,
		EmbedRetry: fn.RetryOpts{
			MaxAttempts: 2,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Jitter:      true,
		},
		SearchTimeout:   5 * time.Second,
		RerankTopN:      5,
		RerankWorkers:   1,
		MalformedScores: RankLast,
	}
}

// Query is one retrieval request.
type Query struct {
	Text     string
	TopK     int  // > 0 overrides the k table
	Rerank   bool // only honoured when Reranker is set
	Reranker Generator
}

// Result is the outcome of a retrieval.
type Result struct {
	Label    domain.Label
	K        int
	Results  []domain.RetrievalResult
	Reranked bool
}

// Retriever is safe for concurrent use.
type Retriever struct {
	classifier *classify.Classifier
	embed      Embedder
	index      VectorIndex
	chunks     ChunkSource
	cache      *lru.Cache[string, []float32]
	opts       Options
	logger     *slog.Logger

	cacheHits   *metrics.Counter
	cacheMisses *metrics.Counter
}

// New creates a Retriever. A nil classifier uses the canonical table.
func New(classifier *classify.Classifier, embed Embedder, index VectorIndex, chunks ChunkSource, opts Options, logger *slog.Logger) (*Retriever, error) {
	if embed == nil || index == nil || chunks == nil {
		return nil, fmt.Errorf("retrieve: embedder, index and chunk source are required")
	}
	if classifier == nil {
		classifier = classify.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EmbedCacheSize <= 0 {
		opts.EmbedCacheSize = 128
	}
	if opts.EmbedRetry.MaxAttempts < 1 {
		opts.EmbedRetry.MaxAttempts = 1
	}
	cache, err := lru.New[string, []float32](opts.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("retrieve: new embedding cache: %w", err)
	}
	r := &Retriever{
		classifier:  classifier,
		embed:       embed,
		index:       index,
		chunks:      chunks,
		cache:       cache,
		opts:        opts,
		logger:      logger,
		cacheHits:   &metrics.Counter{},
		cacheMisses: &metrics.Counter{},
	}
	if reg := opts.Metrics; reg != nil {
		r.cacheHits = reg.Counter(metrics.WithLabels("askgeorge_cache_hits_total", "cache", "embedding"), "Cache hits")
		r.cacheMisses = reg.Counter(metrics.WithLabels("askgeorge_cache_misses_total", "cache", "embedding"), "Cache misses")
	}
	return r, nil
}

// Classifier returns the classifier used to pick k.
func (r *Retriever) Classifier() *classify.Classifier { return r.classifier }

// Retrieve runs one retrieval. Embedding and index failures are returned;
// chunks that cannot be hydrated are logged and dropped.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	label := r.classifier.Classify(q.Text)
	k := q.TopK
	if k <= 0 {
		k = r.opts.KTable.For(label, q.Text)
	}

	vec, err := r.embedding(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed question: %w", err)
	}

	width := k
	if r.opts.AllowList != nil {
		width = r.opts.AllowList.width(k)
	}
	searchCtx := ctx
	if r.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.opts.SearchTimeout)
		defer cancel()
	}
	neighbors, err := r.index.Search(searchCtx, vec, width)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search index: %w", err)
	}

	results := r.hydrate(ctx, neighbors, k)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })

	out := &Result{Label: label, K: k, Results: results}
	if q.Rerank && q.Reranker != nil && len(results) > 0 {
		out.Results = r.rerank(ctx, q.Text, results, q.Reranker)
		out.Reranked = true
	}
	r.logger.Debug("retrieve done", "label", label, "k", k, "neighbors", len(neighbors), "results", len(out.Results), "reranked", out.Reranked)
	return out, nil
}

// embedding is memoized per exact question text. Failures are not cached.
func (r *Retriever) embedding(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := r.cache.Get(text); ok {
		r.cacheHits.Inc()
		return vec, nil
	}
	r.cacheMisses.Inc()
	vec, err := fn.Retry(ctx, r.opts.EmbedRetry, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(r.embed.Embed(ctx, text))
	}).Unwrap()
	if err != nil {
		return nil, err
	}
	r.cache.Add(text, vec)
	return vec, nil
}

func (r *Retriever) hydrate(ctx context.Context, neighbors []semantic.Neighbor, k int) []domain.RetrievalResult {
	allow := r.opts.AllowList
	out := make([]domain.RetrievalResult, 0, k)
	for _, n := range neighbors {
		if len(out) >= k {
			break
		}
		if allow != nil && !allow.Allows(n.ChunkRef) {
			r.logger.Debug("skipped chunk", "source_file", n.SourceFile, "category", n.Category)
			continue
		}
		chunk, err := r.chunks.Get(ctx, n.ChunkRef)
		if err != nil {
			r.logger.Warn("chunk unavailable, dropping", "key", n.Key(), "err", err)
			continue
		}
		if chunk.Text == "" {
			r.logger.Warn("chunk empty, dropping", "key", n.Key())
			continue
		}
		out = append(out, domain.RetrievalResult{Chunk: chunk, Distance: n.Distance})
	}
	return out
}
