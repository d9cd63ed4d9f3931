package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/askgeorge/askgeorge/engine/app"
	"github.com/askgeorge/askgeorge/engine/chunkstore"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/ingest"
	"github.com/askgeorge/askgeorge/engine/semantic"
	"github.com/askgeorge/askgeorge/pkg/fn"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	f, err := parseFlags(nil, app.Config{ChunkDir: "data/chunks"})
	if err != nil {
		t.Fatal(err)
	}
	if f.chunkDir != "data/chunks" || f.batch != ingest.DefaultBatchSize || f.graph || f.recreate || f.natsURL != "" {
		t.Fatalf("unexpected defaults %+v", f)
	}
}

func TestParseFlags_GraphFollowsNeo4j(t *testing.T) {
	f, err := parseFlags(nil, app.Config{Neo4jURL: "neo4j://localhost:7687"})
	if err != nil || !f.graph {
		t.Fatalf("graph should default on with NEO4J_URL: %+v %v", f, err)
	}
	if _, err := parseFlags([]string{"-graph"}, app.Config{}); err == nil {
		t.Fatal("expected error without NEO4J_URL")
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://bus:4222")
	f, err := parseFlags([]string{"-manifest", "m.csv", "-chunks", "c", "-batch", "50", "-recreate"}, app.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if f.manifest != "m.csv" || f.chunkDir != "c" || f.batch != 50 || !f.recreate || f.natsURL != "nats://bus:4222" {
		t.Fatalf("overrides not applied: %+v", f)
	}
}

type embedLen struct{}

func (embedLen) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestRunner_PrunesAndNotifies(t *testing.T) {
	idx := semantic.NewMemoryIndex()
	broken := false
	loader := chunkstore.LoaderFunc(func(_ context.Context, ref domain.ChunkRef) (string, error) {
		if broken {
			return "", errors.New("disk gone")
		}
		return "text of " + ref.Key(), nil
	})
	ix, err := ingest.New(ingest.Deps{Loader: loader, Embedder: embedLen{}, Vectors: idx, Logger: quiet},
		ingest.Options{Retry: fn.RetryOpts{MaxAttempts: 1}})
	if err != nil {
		t.Fatal(err)
	}
	var events []ingest.IndexedEvent
	rn := &runner{ix: ix, collection: "gbc", logger: quiet,
		notify: func(_ context.Context, ev ingest.IndexedEvent) { events = append(events, ev) }}

	first := []domain.ChunkRef{{ID: "1", SourceFile: "aoda.pdf"}, {ID: "1", SourceFile: "parking.pdf"}}
	if err := rn.index(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	second := []domain.ChunkRef{{ID: "1", SourceFile: "aoda.pdf"}, {ID: "2", SourceFile: "aoda.pdf"}}
	if err := rn.index(context.Background(), second); err != nil {
		t.Fatal(err)
	}

	if idx.Len() != 2 {
		t.Fatalf("index holds %d records, want 2", idx.Len())
	}
	if len(events) != 2 || events[1].Pruned != 1 || events[1].Indexed != 2 || events[1].Collection != "gbc" {
		t.Fatalf("events = %+v", events)
	}

	broken = true
	if err := rn.index(context.Background(), first); err == nil {
		t.Fatal("expected load error")
	}
	if len(events) != 2 || len(rn.prev) != 2 || rn.prev[1].ID != "2" {
		t.Fatalf("failed run must not notify or move the baseline: events=%d prev=%v", len(events), rn.prev)
	}
}
