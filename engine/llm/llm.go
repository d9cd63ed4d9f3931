// Package llm dispatches prompts to text generation backends. Backends never
// return errors: every expected failure becomes a warning string that can be
// shown to the user as the answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/askgeorge/askgeorge/pkg/resilience"
)

// WarningPrefix starts every failure answer.
const WarningPrefix = "⚠️ "

// InvalidModeAnswer is returned for a mode no backend serves.
const InvalidModeAnswer = WarningPrefix + "Invalid LLM mode."

// IsWarning reports whether s is a failure answer rather than generated text.
func IsWarning(s string) bool {
	return strings.HasPrefix(s, WarningPrefix)
}

// Warningf formats a failure answer.
func Warningf(format string, args ...any) string {
	return WarningPrefix + fmt.Sprintf(format, args...)
}

// Backend generates text for a prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) string
	Name() string
}

// callFunc performs one request against a provider.
type callFunc func(ctx context.Context, prompt string) (string, error)

// sentinelFunc maps a provider error to the answer shown to the user.
type sentinelFunc func(err error) string

// guarded wraps a provider call with a rate limiter and a circuit breaker
// and converts every failure into a warning answer.
type guarded struct {
	name     string
	call     callFunc
	sentinel sentinelFunc
	limiter  *resilience.KeyedLimiter // nil when unlimited
	key      string
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

func (g *guarded) Name() string { return g.name }

func (g *guarded) Generate(ctx context.Context, prompt string) string {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, g.key); err != nil {
			g.logger.Warn("llm rate limit wait aborted", "backend", g.name, "err", err)
			return Warningf("%s request was cancelled before it could be sent.", g.name)
		}
	}

	var out string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.call(ctx, prompt)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		g.logger.Warn("llm circuit open", "backend", g.name)
		return Warningf("%s is temporarily unavailable after repeated failures. Try again shortly.", g.name)
	}
	if err != nil {
		g.logger.Warn("llm call failed", "backend", g.name, "err", err)
		return g.sentinel(err)
	}

	out = strings.TrimSpace(out)
	g.logger.Debug("llm interaction", "backend", g.name, "prompt", clip(prompt, 500), "response", clip(out, 500))
	if out == "" {
		return Warningf("%s returned an empty response.", g.name)
	}
	return out
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// invalidMode answers every prompt with InvalidModeAnswer.
type invalidMode struct{ mode string }

func (b invalidMode) Generate(context.Context, string) string { return InvalidModeAnswer }
func (b invalidMode) Name() string                            { return b.mode }

// Func adapts a plain function to Backend. Useful for local stubs.
type Func func(ctx context.Context, prompt string) string

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) string { return f(ctx, prompt) }

// Name returns "func".
func (f Func) Name() string { return "func" }
