package retrieve

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/semantic"
)

func rerankFixture() (*mockIndex, *mockChunks) {
	idx := &mockIndex{neighbors: []semantic.Neighbor{
		neighbor("1", "a.pdf", "policy", 0.1),
		neighbor("2", "b.pdf", "policy", 0.2),
		neighbor("3", "c.pdf", "policy", 0.3),
		neighbor("4", "d.pdf", "policy", 0.4),
	}}
	chunks := &mockChunks{texts: map[string]string{
		"a.pdf#1": "alpha", "b.pdf#2": "bravo", "c.pdf#3": "charlie", "d.pdf#4": "delta",
	}}
	return idx, chunks
}

func keys(rs []domain.RetrievalResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Ref().Key()
	}
	return out
}

func TestRerank_OrdersByScore(t *testing.T) {
	idx, chunks := rerankFixture()
	gen := &scriptedGenerator{byText: map[string]string{"alpha": "2", "bravo": " 9\n", "charlie": "5", "delta": "9"}}
	r := newTestRetriever(t, &mockEmbedder{}, idx, chunks, testOptions())

	res, err := r.Retrieve(context.Background(), Query{Text: "q", TopK: 4, Rerank: true, Reranker: gen})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Reranked {
		t.Fatal("expected reranked")
	}
	got := strings.Join(keys(res.Results), ",")
	// ties on 9 fall back to distance.
	if got != "b.pdf#2,d.pdf#4,c.pdf#3,a.pdf#1" {
		t.Errorf("got %s", got)
	}
	if res.Results[0].Score != 9 || !res.Results[0].Scored {
		t.Errorf("score not recorded: %+v", res.Results[0])
	}
	if len(gen.prompts) != 4 {
		t.Errorf("expected 4 prompts, got %d", len(gen.prompts))
	}
	if !strings.HasPrefix(gen.prompts[0], "Rate the relevance of the following text to the question:\n\nQuestion: q\nText: ") {
		t.Errorf("unexpected prompt: %q", gen.prompts[0])
	}
}

func TestRerank_MalformedRankLast(t *testing.T) {
	idx, chunks := rerankFixture()
	gen := &scriptedGenerator{byText: map[string]string{"alpha": "high", "bravo": "0", "charlie": "11", "delta": "3"}}
	r := newTestRetriever(t, &mockEmbedder{}, idx, chunks, testOptions())

	res, _ := r.Retrieve(context.Background(), Query{Text: "q", TopK: 4, Rerank: true, Reranker: gen})
	got := strings.Join(keys(res.Results), ",")
	// well-formed 3, well-formed 0, then malformed by distance.
	if got != "d.pdf#4,b.pdf#2,a.pdf#1,c.pdf#3" {
		t.Errorf("got %s", got)
	}
	last := res.Results[len(res.Results)-1]
	if last.Scored || last.Score != 0 {
		t.Errorf("malformed score should be 0 and unscored: %+v", last)
	}
}

func TestRerank_MalformedExclude(t *testing.T) {
	idx, chunks := rerankFixture()
	gen := &scriptedGenerator{byText: map[string]string{"alpha": "⚠️ Ollama timed out.", "bravo": "4", "charlie": "", "delta": "8"}}
	opts := testOptions()
	opts.MalformedScores = Exclude
	opts.RerankWorkers = 4
	r := newTestRetriever(t, &mockEmbedder{}, idx, chunks, opts)

	res, _ := r.Retrieve(context.Background(), Query{Text: "q", TopK: 4, Rerank: true, Reranker: gen})
	if got := strings.Join(keys(res.Results), ","); got != "d.pdf#4,b.pdf#2" {
		t.Errorf("got %s", got)
	}
}

func TestRerank_TopN(t *testing.T) {
	idx, chunks := rerankFixture()
	gen := &scriptedGenerator{byText: map[string]string{"alpha": "1", "bravo": "2", "charlie": "3", "delta": "4"}}
	opts := testOptions()
	opts.RerankTopN = 2
	r := newTestRetriever(t, &mockEmbedder{}, idx, chunks, opts)

	res, _ := r.Retrieve(context.Background(), Query{Text: "q", TopK: 4, Rerank: true, Reranker: gen})
	if got := strings.Join(keys(res.Results), ","); got != "d.pdf#4,c.pdf#3" {
		t.Errorf("got %s", got)
	}
}

func TestRerank_SkippedWithoutReranker(t *testing.T) {
	idx, chunks := rerankFixture()
	r := newTestRetriever(t, &mockEmbedder{}, idx, chunks, testOptions())
	res, _ := r.Retrieve(context.Background(), Query{Text: "q", TopK: 4, Rerank: true})
	if res.Reranked || len(res.Results) != 4 {
		t.Errorf("expected plain retrieval, got %+v", res)
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		in    string
		score int
		ok    bool
	}{
		{"7", 7, true}, {" 10 \n", 10, true}, {"0", 0, true},
		{"-1", 0, false}, {"11", 0, false}, {"7/10", 0, false},
		{"seven", 0, false}, {"", 0, false}, {"7.5", 0, false},
	}
	for _, tc := range cases {
		s, ok := ParseScore(tc.in)
		if s != tc.score || ok != tc.ok {
			t.Errorf("ParseScore(%q) = %d,%v want %d,%v", tc.in, s, ok, tc.score, tc.ok)
		}
	}
}

func TestParseMalformedPolicy(t *testing.T) {
	if ParseMalformedPolicy(" Exclude ") != Exclude || ParseMalformedPolicy("rank-last") != RankLast {
		t.Error("policy parse mismatch")
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 80, "short"},
		{"abcdef", 3, "abc..."},
		{"çàé€ü", 3, "çàé..."},
		{"€€", 2, "€€"},
	}
	for _, c := range cases {
		got := truncate(c.in, c.n)
		if got != c.want || !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}
