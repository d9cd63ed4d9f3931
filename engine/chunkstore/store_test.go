package chunkstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/pkg/metrics"
)

type countingLoader struct {
	mu    sync.Mutex
	texts map[string]string
	calls int
	err   error
}

func (c *countingLoader) Load(_ context.Context, ref domain.ChunkRef) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	t, ok := c.texts[ref.Key()]
	if !ok {
		return "", domain.ErrChunkNotFound
	}
	return t, nil
}

var aoda = domain.ChunkRef{ID: "1", SourceFile: "aoda.pdf", Category: "policy"}

func TestGet_LoadsOnceThenCaches(t *testing.T) {
	l := &countingLoader{texts: map[string]string{"aoda.pdf#1": "  Accommodation requests.\n"}}
	reg := metrics.New()
	s, err := New(l, 10, WithMetrics(reg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		c, err := s.Get(context.Background(), aoda)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Text != "Accommodation requests." {
			t.Fatalf("expected trimmed text, got %q", c.Text)
		}
		if c.Category != "policy" || c.SourceFile != "aoda.pdf" {
			t.Fatalf("metadata lost: %+v", c)
		}
	}
	if l.calls != 1 {
		t.Errorf("expected 1 load, got %d", l.calls)
	}
	out := reg.Render()
	if !strings.Contains(out, `askgeorge_cache_hits_total{cache="chunk"} 2`) {
		t.Errorf("hits not counted:\n%s", out)
	}
	if !strings.Contains(out, `askgeorge_cache_misses_total{cache="chunk"} 1`) {
		t.Errorf("misses not counted:\n%s", out)
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := New(&countingLoader{}, 10)
	_, err := s.Get(context.Background(), aoda)
	if !errors.Is(err, domain.ErrChunkNotFound) || !IsMiss(err) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}
}

func TestGet_EmptyTextNotCached(t *testing.T) {
	l := &countingLoader{texts: map[string]string{"aoda.pdf#1": " \n\t"}}
	s, _ := New(l, 10)
	for i := 0; i < 2; i++ {
		if _, err := s.Get(context.Background(), aoda); !errors.Is(err, domain.ErrEmptyChunk) {
			t.Fatalf("expected ErrEmptyChunk, got %v", err)
		}
	}
	if l.calls != 2 || s.Len() != 0 {
		t.Errorf("empty text should not be cached: calls=%d len=%d", l.calls, s.Len())
	}
}

func TestGet_LoaderError(t *testing.T) {
	boom := errors.New("disk on fire")
	s, _ := New(&countingLoader{err: boom}, 10)
	_, err := s.Get(context.Background(), aoda)
	if !errors.Is(err, boom) || IsMiss(err) {
		t.Fatalf("expected wrapped loader error, got %v", err)
	}
}

func TestGet_NilLoader(t *testing.T) {
	s, _ := New(nil, 0)
	if _, err := s.Get(context.Background(), aoda); !errors.Is(err, domain.ErrChunkNotFound) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	s, _ := New(nil, 10)
	texts := []string{"plain", "  leading and trailing  ", "unicode ✓ 多语言", "line\nbreaks\n"}
	for i, text := range texts {
		c := domain.Chunk{ID: string(rune('a' + i)), SourceFile: "f.pdf", Category: "faq", Text: text}
		s.Put(c)
		got, err := s.Get(context.Background(), c.Ref())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Text != text {
			t.Errorf("round trip changed text: %q -> %q", text, got.Text)
		}
	}
}

func TestStore_Eviction(t *testing.T) {
	s, _ := New(nil, 2)
	for _, id := range []string{"1", "2", "3"} {
		s.Put(domain.Chunk{ID: id, SourceFile: "f.pdf", Text: id})
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2, got %d", s.Len())
	}
	if _, err := s.Get(context.Background(), domain.ChunkRef{ID: "1", SourceFile: "f.pdf"}); err == nil {
		t.Error("oldest entry should be evicted")
	}
	s.Purge()
	if s.Len() != 0 {
		t.Error("purge left entries")
	}
}

func TestStore_ConcurrentGet(t *testing.T) {
	l := &countingLoader{texts: map[string]string{"aoda.pdf#1": "text"}}
	s, _ := New(l, 10)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c, err := s.Get(context.Background(), aoda); err != nil || c.Text != "text" {
				t.Errorf("got %+v, %v", c, err)
			}
		}()
	}
	wg.Wait()
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "aoda_chunk_1.txt"), []byte("\nAccessible Learning Services\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fl := FileLoader{Dir: dir}
	if got := fl.Path(aoda); got != filepath.Join(dir, "aoda_chunk_1.txt") {
		t.Errorf("got path %s", got)
	}

	s, _ := New(fl, 10)
	c, err := s.Get(context.Background(), aoda)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Text != "Accessible Learning Services" {
		t.Errorf("got %q", c.Text)
	}

	_, err = fl.Load(context.Background(), domain.ChunkRef{ID: "9", SourceFile: "aoda.pdf"})
	if !errors.Is(err, domain.ErrChunkNotFound) {
		t.Errorf("expected ErrChunkNotFound, got %v", err)
	}
}

func TestFileLoader_NoTraversal(t *testing.T) {
	fl := FileLoader{Dir: "/data/chunks"}
	got := fl.Path(domain.ChunkRef{ID: "../1", SourceFile: "../../etc/passwd.pdf"})
	if filepath.Dir(got) != "/data/chunks" {
		t.Errorf("path escaped dir: %s", got)
	}
}

func TestChain(t *testing.T) {
	first := &countingLoader{texts: map[string]string{}}
	second := &countingLoader{texts: map[string]string{"aoda.pdf#1": "from second"}}
	text, err := Chain(first, second).Load(context.Background(), aoda)
	if err != nil || text != "from second" {
		t.Fatalf("got %q, %v", text, err)
	}

	_, err = Chain(first).Load(context.Background(), aoda)
	if !errors.Is(err, domain.ErrChunkNotFound) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}

	boom := errors.New("boom")
	_, err = Chain(&countingLoader{err: boom}, second).Load(context.Background(), aoda)
	if !errors.Is(err, boom) {
		t.Fatalf("expected hard error to stop the chain, got %v", err)
	}
}
