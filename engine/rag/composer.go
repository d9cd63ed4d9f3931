package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/askgeorge/askgeorge/engine/classify"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/llm"
)

// ComposerOptions configures answer composition.
type ComposerOptions struct {
	Templates    Templates
	MaxTokens    int // context budget; 0 means DefaultMaxTokens
	HistoryTurns int // turns of conversation to include; 0 disables
}

// DefaultComposerOptions returns the built-in templates and budget.
func DefaultComposerOptions() ComposerOptions {
	return ComposerOptions{
		Templates:    DefaultTemplates(DefaultInstitution),
		MaxTokens:    DefaultMaxTokens,
		HistoryTurns: 3,
	}
}

// Composer turns retrieved passages into an answer. It is safe for
// concurrent use.
type Composer struct {
	classifier *classify.Classifier
	backend    llm.Backend
	budget     Budgeter
	opts       ComposerOptions
	logger     *slog.Logger
}

// NewComposer creates a Composer. A nil classifier uses the canonical table.
func NewComposer(classifier *classify.Classifier, backend llm.Backend, opts ComposerOptions, logger *slog.Logger) *Composer {
	if classifier == nil {
		classifier = classify.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		classifier: classifier,
		backend:    backend,
		budget:     Budgeter{MaxTokens: opts.MaxTokens},
		opts:       opts,
		logger:     logger,
	}
}

// Compose answers question from results with the composer's backend.
func (c *Composer) Compose(ctx context.Context, question string, results []domain.RetrievalResult) string {
	return c.ComposeWith(ctx, c.backend, question, results, nil)
}

// ComposeWithHistory is Compose with recent conversation turns in the prompt.
func (c *Composer) ComposeWithHistory(ctx context.Context, question string, results []domain.RetrievalResult, turns []domain.Turn) string {
	return c.ComposeWith(ctx, c.backend, question, results, turns)
}

// ComposeWith answers with an explicit backend. With no results, or no
// passage fitting the budget, it returns domain.NoInformationAnswer without
// calling the backend.
func (c *Composer) ComposeWith(ctx context.Context, backend llm.Backend, question string, results []domain.RetrievalResult, turns []domain.Turn) string {
	prompt, label, ok := c.Prompt(question, results, turns)
	if !ok {
		c.logger.Info("no context for question", "results", len(results))
		return domain.NoInformationAnswer
	}
	if backend == nil {
		return llm.InvalidModeAnswer
	}
	c.logger.Debug("composing answer", "label", label, "backend", backend.Name(), "prompt_tokens", EstimateTokens(prompt))
	return strings.TrimSpace(backend.Generate(ctx, prompt))
}

// Prompt builds the prompt Compose would send. ok is false when there is no
// context to answer from.
func (c *Composer) Prompt(question string, results []domain.RetrievalResult, turns []domain.Turn) (prompt string, label domain.Label, ok bool) {
	if len(results) == 0 {
		return "", "", false
	}
	selected := c.budget.Select(results)
	if selected == "" {
		return "", "", false
	}

	label = c.classifier.Classify(question)
	if n := c.opts.HistoryTurns; n > 0 && len(turns) > 0 {
		if len(turns) > n {
			turns = turns[len(turns)-n:]
		}
		selected = historyBlock(turns) + pieceSeparator + selected
	}
	return c.opts.Templates.For(label)(selected, question), label, true
}
