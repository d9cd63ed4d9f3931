package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/askgeorge/askgeorge/engine/app"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/rag"
)

type fakeAnswerer struct {
	reqs []rag.Request
	err  error
}

func (f *fakeAnswerer) Ask(_ context.Context, req rag.Request) (*rag.Answer, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	ans := &rag.Answer{
		Text:     "answer to " + req.Question,
		Question: req.Question,
		Label:    domain.LabelGeneral,
		K:        7,
		Mode:     "ollama",
		Timing:   rag.Timing{Retrieval: 0.12, Generation: 1.5, Total: 1.62},
	}
	for i := 0; i < 7; i++ {
		ans.Sources = append(ans.Sources, rag.Source{ChunkID: fmt.Sprint(i), SourceFile: "guide.pdf", Text: "passage"})
	}
	return ans, nil
}

func testOptions(turns int) *options {
	cfg := app.Config{Mode: "ollama", HistoryTurns: turns}
	return &options{cfg: cfg, topK: 4}
}

func TestRunChat_LoopAndHistory(t *testing.T) {
	fa := &fakeAnswerer{}
	in := strings.NewReader("q1\n\n   \nq2\nq3\nq4\nquit\nnever asked\n")
	var out bytes.Buffer
	if err := runChat(context.Background(), fa, testOptions(2), in, &out); err != nil {
		t.Fatal(err)
	}
	if len(fa.reqs) != 4 {
		t.Fatalf("expected 4 questions, got %d", len(fa.reqs))
	}
	if got := strings.Count(out.String(), domain.EmptyQuestionMessage); got != 2 {
		t.Fatalf("expected 2 empty-question messages, got %d", got)
	}
	last := fa.reqs[3]
	if len(last.History) != 2 || last.History[0].Question != "q2" || last.History[1].Question != "q3" {
		t.Fatalf("unexpected history %+v", last.History)
	}
	if last.TopK != 4 {
		t.Fatalf("top-k not forwarded: %d", last.TopK)
	}
	if !strings.Contains(out.String(), "Goodbye") {
		t.Fatal("missing goodbye")
	}
}

func TestRunChat_HistoryDisabled(t *testing.T) {
	fa := &fakeAnswerer{}
	runChat(context.Background(), fa, testOptions(0), strings.NewReader("q1\nq2\nexit\n"), &bytes.Buffer{})
	if fa.reqs[1].History != nil {
		t.Fatalf("history should be off: %+v", fa.reqs[1].History)
	}
}

func TestRunChat_ErrorKeepsLooping(t *testing.T) {
	fa := &fakeAnswerer{err: errors.New("qdrant down")}
	var out bytes.Buffer
	if err := runChat(context.Background(), fa, testOptions(3), strings.NewReader("q1\nq2\n"), &out); err != nil {
		t.Fatal(err)
	}
	if len(fa.reqs) != 2 || strings.Count(out.String(), "qdrant down") != 2 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestPrintAnswer_FirstFiveSources(t *testing.T) {
	fa := &fakeAnswerer{}
	ans, _ := fa.Ask(context.Background(), rag.Request{Question: "hi"})
	var out bytes.Buffer
	printAnswer(&out, ans)
	s := out.String()
	if got := strings.Count(s, "📜 guide.pdf"); got != 5 {
		t.Fatalf("expected 5 sources, got %d", got)
	}
	if !strings.Contains(s, "(Chunk 4)") || strings.Contains(s, "(Chunk 5)") {
		t.Fatalf("wrong sources shown: %q", s)
	}
	if !strings.Contains(s, "retrieval 0.12s") || !strings.Contains(s, "total 1.62s") {
		t.Fatalf("timings missing: %q", s)
	}
}

func TestRunAsk_Empty(t *testing.T) {
	fa := &fakeAnswerer{}
	var out bytes.Buffer
	err := runAsk(context.Background(), fa, testOptions(3), "  ", &out)
	if !errors.Is(err, domain.ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
	if len(fa.reqs) != 0 || !strings.Contains(out.String(), domain.EmptyQuestionMessage) {
		t.Fatal("blank question should be rejected locally")
	}
}

func TestRootCmd_FlagsReachPipeline(t *testing.T) {
	fa := &fakeAnswerer{}
	var got app.Config
	build := func(_ context.Context, cfg app.Config, _ *slog.Logger) (answerer, func(), error) {
		got = cfg
		return fa, func() {}, nil
	}
	root := newRootCmd(build)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ask", "--mode", "OpenAI", "--top-k", "6", "--rerank", "--max-tokens", "900",
		"--preset", "answer", "--allow-list", "--history", "1", "What", "is", "co-op?"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got.Mode != "openai" || !got.Rerank || got.MaxTokens != 900 || got.ClassifierPreset != "answer" || !got.AllowList || got.HistoryTurns != 1 {
		t.Fatalf("flags not applied: %+v", got)
	}
	if len(fa.reqs) != 1 || fa.reqs[0].Question != "What is co-op?" || fa.reqs[0].TopK != 6 || !fa.reqs[0].Rerank {
		t.Fatalf("unexpected request %+v", fa.reqs)
	}
	if !strings.Contains(out.String(), "answer to What is co-op?") {
		t.Fatalf("answer not printed: %q", out.String())
	}
}

func TestRootCmd_DefaultsToChat(t *testing.T) {
	fa := &fakeAnswerer{}
	build := func(context.Context, app.Config, *slog.Logger) (answerer, func(), error) { return fa, func() {}, nil }
	root := newRootCmd(build)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader("hello\nexit\n"))
	root.SetArgs([]string{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fa.reqs) != 1 || fa.reqs[0].Question != "hello" {
		t.Fatalf("unexpected requests %+v", fa.reqs)
	}
}

func TestRootCmd_BuildError(t *testing.T) {
	build := func(context.Context, app.Config, *slog.Logger) (answerer, func(), error) {
		return nil, nil, errors.New("unknown LLM mode")
	}
	root := newRootCmd(build)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ask", "hi"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected build error")
	}
}
