// Command index embeds prepared chunk files and loads them into Qdrant and,
// when NEO4J_URL is set, into Neo4j.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/askgeorge/askgeorge/engine/app"
	"github.com/askgeorge/askgeorge/engine/chunkstore"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/ingest"
	"github.com/askgeorge/askgeorge/engine/semantic"
	"github.com/askgeorge/askgeorge/pkg/metrics"
	"github.com/askgeorge/askgeorge/pkg/natsutil"
	"github.com/askgeorge/askgeorge/pkg/ollama"
)

type flags struct {
	manifest    string
	chunkDir    string
	batch       int
	recreate    bool
	graph       bool
	watch       bool
	metricsAddr string
	natsURL     string
}

func parseFlags(args []string, cfg app.Config) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	fs.StringVar(&f.manifest, "manifest", "logs/chunk_metadata.csv", "chunk manifest CSV (chunk_id, source_file, category)")
	fs.StringVar(&f.chunkDir, "chunks", cfg.ChunkDir, "directory of <stem>_chunk_<id>.txt files")
	fs.IntVar(&f.batch, "batch", ingest.DefaultBatchSize, "chunks per embed and upsert batch")
	fs.BoolVar(&f.recreate, "recreate", false, "drop the collection before indexing")
	fs.BoolVar(&f.graph, "graph", cfg.Neo4jURL != "", "also write chunk text to Neo4j")
	fs.BoolVar(&f.watch, "watch", false, "keep running and reindex when the manifest changes")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address while indexing")
	fs.StringVar(&f.natsURL, "nats", os.Getenv("NATS_URL"), "publish "+ingest.SubjectIndexed+" events to this NATS server")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.graph && cfg.Neo4jURL == "" {
		return f, errors.New("-graph needs NEO4J_URL")
	}
	return f, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := app.FromEnv()
	f, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		os.Exit(2)
	}
	if err := run(cfg, f, logger); err != nil {
		logger.Error("index failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg app.Config, f flags, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refs, err := ingest.ReadManifestFile(f.manifest)
	if err != nil {
		return err
	}
	logger.Info("manifest loaded", "chunks", len(refs), "manifest", f.manifest)

	reg := metrics.New()
	if f.metricsAddr != "" {
		srv := &http.Server{Addr: f.metricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	// --- Connect to Qdrant ---
	vs, err := semantic.New(cfg.QdrantURL, cfg.Collection, semantic.WithDistance(semantic.ParseDistance(cfg.Distance)))
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vs.Close()
	if f.recreate {
		if err := vs.DeleteCollection(ctx); err != nil {
			logger.Warn("drop collection", "collection", cfg.Collection, "err", err)
		}
	}

	// --- Connect to Neo4j ---
	var chunks ingest.ChunkSink
	if f.graph {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j verify: %w", err)
		}
		chunks = chunkstore.RepoLoader{Repo: chunkstore.NewChunkRepo(driver, cfg.Neo4jDatabase)}
	}

	// --- Connect to NATS ---
	notify := func(context.Context, ingest.IndexedEvent) {}
	if f.natsURL != "" {
		nc, err := nats.Connect(f.natsURL, nats.Name("askgeorge-index"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		notify = func(ctx context.Context, ev ingest.IndexedEvent) {
			if err := natsutil.Publish(ctx, nc, ingest.SubjectIndexed, ev); err != nil {
				logger.Warn("publish index event", "err", err)
			}
		}
	}

	hc := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: cfg.EmbedTimeout}
	ix, err := ingest.New(ingest.Deps{
		Loader:   chunkstore.FileLoader{Dir: f.chunkDir},
		Embedder: ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel, ollama.WithHTTPClient(hc)),
		Vectors:  vs,
		Chunks:   chunks,
		Metrics:  reg,
		Logger:   logger,
	}, ingest.Options{BatchSize: f.batch})
	if err != nil {
		return err
	}

	rn := &runner{ix: ix, collection: cfg.Collection, notify: notify, logger: logger}
	err = rn.index(ctx, refs)
	if !f.watch {
		return err
	}
	if err != nil {
		logger.Error("initial index failed, waiting for manifest changes", "err", err)
	}
	return ingest.Watch(ctx, f.manifest, 0, logger, func(ctx context.Context) error {
		refs, err := ingest.ReadManifestFile(f.manifest)
		if err != nil {
			return err
		}
		return rn.index(ctx, refs)
	})
}

// runner indexes successive manifests, pruning sources that disappear
// between them.
type runner struct {
	ix         *ingest.Indexer
	collection string
	notify     func(context.Context, ingest.IndexedEvent)
	logger     *slog.Logger
	prev       []domain.ChunkRef
}

func (rn *runner) index(ctx context.Context, refs []domain.ChunkRef) error {
	start := time.Now()
	pruned, err := rn.ix.Prune(ctx, rn.prev, refs)
	if err != nil {
		return err
	}
	rep, err := rn.ix.Run(ctx, refs)
	rn.logger.Info("index finished",
		"indexed", rep.Indexed,
		"skipped", rep.Skipped,
		"pruned", pruned,
		"batches", rep.Batches,
		"dims", rep.Dims,
		"collection", rn.collection,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	if err != nil {
		return err
	}
	rn.prev = refs
	rn.notify(ctx, ingest.IndexedEvent{
		Collection: rn.collection,
		Indexed:    rep.Indexed,
		Skipped:    rep.Skipped,
		Pruned:     pruned,
		At:         time.Now().UTC(),
	})
	return nil
}
