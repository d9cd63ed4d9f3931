// Package rag composes grounded answers: it packs retrieved passages into a
// token budget, renders the label's prompt template and asks a language
// model backend.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/llm"
	"github.com/askgeorge/askgeorge/engine/retrieve"
	"github.com/askgeorge/askgeorge/pkg/fn"
	"github.com/askgeorge/askgeorge/pkg/metrics"
)

// Retriever finds the passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieve.Query) (*retrieve.Result, error)
}

// Backends resolves a mode name to a backend.
type Backends interface {
	Backend(mode string) llm.Backend
	Valid(mode string) bool
}

// InvalidMode is reported in Answer.Mode and metric labels for modes no
// backend serves.
const InvalidMode = "invalid"

// Request is one question.
type Request struct {
	Question string
	TopK     int    // > 0 overrides adaptive k
	Rerank   bool   // rerank with the generation backend
	Mode     string // empty uses the service default
	History  []domain.Turn
}

// Source is a passage shown under an answer.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	SourceFile string  `json:"source_file"`
	Category   string  `json:"category"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
	Score      *int    `json:"score,omitempty"`
}

// Timing holds stage durations in seconds, rounded to two decimals.
type Timing struct {
	Retrieval  float64 `json:"retrieval"`
	Generation float64 `json:"generation"`
	Total      float64 `json:"total"`
}

// Answer is the outcome of Ask.
type Answer struct {
	Text     string       `json:"answer"`
	Question string       `json:"question"`
	Label    domain.Label `json:"label"`
	K        int          `json:"k"`
	Sources  []Source     `json:"sources"`
	Timing   Timing       `json:"timing"`
	Mode     string       `json:"mode"`
}

// Config configures a Service.
type Config struct {
	DefaultMode string
	Composer    ComposerOptions
	Metrics     *metrics.Registry
}

// Service answers questions end to end. It is safe for concurrent use.
type Service struct {
	retriever Retriever
	backends  Backends
	composer  *Composer
	mode      string
	metrics   serviceMetrics
	logger    *slog.Logger

	retrieveStage fn.Stage[retrieve.Query, *retrieve.Result]
}

// NewService wires a retriever, the backends and a composer. The composer
// classifies with the retriever's table when the retriever exposes one.
func NewService(retriever Retriever, backends Backends, cfg Config, logger *slog.Logger) (*Service, error) {
	if retriever == nil || backends == nil {
		return nil, fmt.Errorf("rag: retriever and backends are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.DefaultMode = strings.ToLower(strings.TrimSpace(cfg.DefaultMode))
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = string(llm.ModeOllama)
	}
	if cfg.Composer.Templates.General == nil {
		cfg.Composer.Templates = DefaultTemplates(DefaultInstitution)
	}
	var composer *Composer
	if r, ok := retriever.(*retrieve.Retriever); ok {
		composer = NewComposer(r.Classifier(), nil, cfg.Composer, logger)
	} else {
		composer = NewComposer(nil, nil, cfg.Composer, logger)
	}
	s := &Service{
		retriever: retriever,
		backends:  backends,
		composer:  composer,
		mode:      cfg.DefaultMode,
		metrics:   serviceMetrics{reg: cfg.Metrics},
		logger:    logger,
	}
	s.retrieveStage = fn.TracedStage("rag.retrieve", func(ctx context.Context, q retrieve.Query) fn.Result[*retrieve.Result] {
		res, err := s.retriever.Retrieve(ctx, q)
		if err != nil {
			return fn.Err[*retrieve.Result](err)
		}
		return fn.Ok(res)
	})
	return s, nil
}

// Composer returns the service's composer.
func (s *Service) Composer() *Composer { return s.composer }

// DefaultMode is the mode used when a request names none.
func (s *Service) DefaultMode() string { return s.mode }

type composeInput struct {
	backend  llm.Backend
	question string
	results  []domain.RetrievalResult
	turns    []domain.Turn
}

// Ask validates the question, retrieves passages and composes an answer.
// Retrieval failures are returned; backend failures come back as warning
// text in Answer.Text.
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	if err := domain.ValidateQuestion(req.Question); err != nil {
		return nil, err
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = s.mode
	}
	backend := s.backends.Backend(mode)
	if !s.backends.Valid(mode) {
		mode = InvalidMode
	}
	start := time.Now()

	q := retrieve.Query{Text: req.Question, TopK: req.TopK, Rerank: req.Rerank}
	if req.Rerank {
		q.Reranker = backend
	}
	res, err := s.retrieveStage(ctx, q).Unwrap()
	if err != nil {
		s.metrics.failure("retrieve")
		return nil, fmt.Errorf("rag: ask: %w", err)
	}
	retrieval := time.Since(start)
	s.metrics.question(string(res.Label))
	s.metrics.retrieval(retrieval.Seconds(), len(res.Results))

	genStart := time.Now()
	compose := fn.TracedStage("rag.compose", func(ctx context.Context, in composeInput) fn.Result[string] {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("llm.mode", in.backend.Name()),
			attribute.Int("rag.results", len(in.results)),
		)
		return fn.Ok(s.composer.ComposeWith(ctx, in.backend, in.question, in.results, in.turns))
	})
	text := compose(ctx, composeInput{backend: backend, question: req.Question, results: res.Results, turns: req.History}).UnwrapOr(domain.NoInformationAnswer)
	generation := time.Since(genStart)
	s.metrics.generation(mode, generation.Seconds())
	s.metrics.answer(mode, llm.IsWarning(text), text == domain.NoInformationAnswer)

	ans := &Answer{
		Text:     text,
		Question: req.Question,
		Label:    res.Label,
		K:        res.K,
		Sources:  sourcesOf(res.Results),
		Timing: Timing{
			Retrieval:  round2(retrieval.Seconds()),
			Generation: round2(generation.Seconds()),
			Total:      round2(time.Since(start).Seconds()),
		},
		Mode: mode,
	}
	s.logger.Info("answered", "label", ans.Label, "k", ans.K, "sources", len(ans.Sources), "mode", mode, "total_s", ans.Timing.Total)
	return ans, nil
}

func sourcesOf(results []domain.RetrievalResult) []Source {
	out := make([]Source, 0, len(results))
	for _, r := range results {
		src := Source{
			ChunkID:    r.ID,
			SourceFile: r.SourceFile,
			Category:   r.Category,
			Text:       r.Text,
			Distance:   r.Distance,
		}
		if r.Scored {
			score := r.Score
			src.Score = &score
		}
		out = append(out, src)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
