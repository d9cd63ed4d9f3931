// Package app assembles the answer pipeline from configuration: the
// embedder, the vector index, the chunk store, the backends and the
// service on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/askgeorge/askgeorge/engine/chunkstore"
	"github.com/askgeorge/askgeorge/engine/classify"
	"github.com/askgeorge/askgeorge/engine/llm"
	"github.com/askgeorge/askgeorge/engine/rag"
	"github.com/askgeorge/askgeorge/engine/retrieve"
	"github.com/askgeorge/askgeorge/engine/semantic"
	"github.com/askgeorge/askgeorge/pkg/metrics"
	"github.com/askgeorge/askgeorge/pkg/ollama"
)

// App is an assembled pipeline.
type App struct {
	Service    *rag.Service
	Dispatcher *llm.Dispatcher
	Retriever  *retrieve.Retriever
	Chunks     *chunkstore.Store
	Metrics    *metrics.Registry
	Config     Config

	closers []func(context.Context) error
}

// Deps lets callers supply components instead of dialing them. Nil fields
// are built from Config.
type Deps struct {
	Embedder retrieve.Embedder
	Index    retrieve.VectorIndex
	Loader   chunkstore.Loader
}

// Build connects to the configured services and wires the pipeline.
func Build(ctx context.Context, cfg Config, deps Deps, reg *metrics.Registry, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	a := &App{Metrics: reg, Config: cfg}

	embed := deps.Embedder
	if embed == nil {
		hc := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: cfg.EmbedTimeout}
		embed = ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel, ollama.WithHTTPClient(hc))
	}

	index := deps.Index
	if index == nil {
		vs, err := semantic.New(cfg.QdrantURL, cfg.Collection, semantic.WithDistance(semantic.ParseDistance(cfg.Distance)))
		if err != nil {
			return nil, fmt.Errorf("app: qdrant connect: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return vs.Close() })
		index = vs
	}

	loader := deps.Loader
	if loader == nil {
		var err error
		loader, err = a.chunkLoader(ctx, cfg, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	chunks, err := chunkstore.New(loader, cfg.ChunkCacheSize,
		chunkstore.WithLogger(logger.With("component", "chunkstore")),
		chunkstore.WithMetrics(reg),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Chunks = chunks

	ropts := retrieve.DefaultOptions()
	ropts.Metrics = reg
	ropts.MalformedScores = retrieve.ParseMalformedPolicy(cfg.MalformedScores)
	if cfg.AllowList {
		ropts.AllowList = retrieve.DefaultAllowList()
	}
	classifier := classify.New(classify.Preset(cfg.ClassifierPreset))
	a.Retriever, err = retrieve.New(classifier, embed, index, chunks, ropts, logger.With("component", "retrieve"))
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	lc := cfg.LLM
	lc.Metrics = reg
	a.Dispatcher = llm.NewDispatcher(lc, logger)
	if !a.Dispatcher.Valid(cfg.Mode) {
		a.Close(ctx)
		return nil, fmt.Errorf("app: unknown LLM mode %q", cfg.Mode)
	}

	copts := rag.DefaultComposerOptions()
	copts.MaxTokens = cfg.MaxTokens
	copts.HistoryTurns = cfg.HistoryTurns
	a.Service, err = rag.NewService(a.Retriever, a.Dispatcher, rag.Config{
		DefaultMode: cfg.Mode,
		Composer:    copts,
		Metrics:     reg,
	}, logger.With("component", "rag"))
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// chunkLoader reads chunk files from ChunkDir, falling back to Neo4j when
// it is configured.
func (a *App) chunkLoader(ctx context.Context, cfg Config, logger *slog.Logger) (chunkstore.Loader, error) {
	files := chunkstore.FileLoader{Dir: cfg.ChunkDir}
	if cfg.Neo4jURL == "" {
		return files, nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("app: neo4j driver: %w", err)
	}
	a.closers = append(a.closers, driver.Close)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Warn("neo4j unreachable, chunk lookups will use files only until it recovers", "err", err)
	}
	return chunkstore.Chain(files, chunkstore.RepoLoader{Repo: chunkstore.NewChunkRepo(driver, cfg.Neo4jDatabase)}), nil
}

// Close releases every connection Build opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
