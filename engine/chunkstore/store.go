// Package chunkstore resolves chunk references to passage text through a
// bounded cache in front of a lazy Loader.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/pkg/metrics"
)

// DefaultCacheSize bounds the number of cached passages.
const DefaultCacheSize = 1024

// Loader fetches the raw text of a chunk. It returns an error wrapping
// domain.ErrChunkNotFound when the chunk does not exist.
type Loader interface {
	Load(ctx context.Context, ref domain.ChunkRef) (string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref domain.ChunkRef) (string, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, ref domain.ChunkRef) (string, error) {
	return f(ctx, ref)
}

// Store is safe for concurrent use. Two goroutines missing on the same key
// may both load it; the later write wins with identical text.
type Store struct {
	cache  *lru.Cache[string, string]
	loader Loader
	logger *slog.Logger

	hits   *metrics.Counter
	misses *metrics.Counter
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics counts cache hits and misses in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Store) {
		s.hits = reg.Counter(metrics.WithLabels("askgeorge_cache_hits_total", "cache", "chunk"), "Cache hits")
		s.misses = reg.Counter(metrics.WithLabels("askgeorge_cache_misses_total", "cache", "chunk"), "Cache misses")
	}
}

// New creates a Store with room for size passages. A nil loader makes every
// miss a domain.ErrChunkNotFound.
func New(loader Loader, size int, opts ...Option) (*Store, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: new cache: %w", err)
	}
	s := &Store{
		cache:  cache,
		loader: loader,
		logger: slog.Default(),
		hits:   &metrics.Counter{},
		misses: &metrics.Counter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Get returns the chunk with its text, loading and caching it on a miss.
// Loaded text is trimmed; text that is empty after trimming is an error
// wrapping domain.ErrEmptyChunk and is not cached.
func (s *Store) Get(ctx context.Context, ref domain.ChunkRef) (domain.Chunk, error) {
	key := ref.Key()
	if text, ok := s.cache.Get(key); ok {
		s.hits.Inc()
		return chunkOf(ref, text), nil
	}
	s.misses.Inc()

	if s.loader == nil {
		return domain.Chunk{}, fmt.Errorf("chunkstore: %s: %w", key, domain.ErrChunkNotFound)
	}
	raw, err := s.loader.Load(ctx, ref)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("chunkstore: load %s: %w", key, err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.Chunk{}, fmt.Errorf("chunkstore: %s: %w", key, domain.ErrEmptyChunk)
	}
	s.cache.Add(key, text)
	s.logger.Debug("chunk loaded", "key", key, "chars", len(text))
	return chunkOf(ref, text), nil
}

// Put stores chunk text verbatim, replacing any cached value.
func (s *Store) Put(c domain.Chunk) {
	s.cache.Add(c.Ref().Key(), c.Text)
}

// Len returns the number of cached passages.
func (s *Store) Len() int { return s.cache.Len() }

// Purge empties the cache.
func (s *Store) Purge() { s.cache.Purge() }

// IsMiss reports whether err means the chunk is absent or has no text.
func IsMiss(err error) bool {
	return errors.Is(err, domain.ErrChunkNotFound) || errors.Is(err, domain.ErrEmptyChunk)
}

func chunkOf(ref domain.ChunkRef, text string) domain.Chunk {
	return domain.Chunk{ID: ref.ID, SourceFile: ref.SourceFile, Category: ref.Category, Text: text}
}
