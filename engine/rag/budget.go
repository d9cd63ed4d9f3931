package rag

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// DefaultMaxTokens is the context budget used when none is configured.
const DefaultMaxTokens = 2000

const pieceSeparator = "\n\n"

// EstimateTokens approximates a token count as one token per four
// characters, rounded up.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Budgeter packs the most relevant passages into a bounded context.
type Budgeter struct {
	MaxTokens int
}

// Select orders results by ascending distance and appends rendered passages
// while they fit in maxTokens. It stops at the first passage that does not
// fit. The separator before a passage counts against that passage, so the
// estimate of the returned string never exceeds maxTokens.
func Select(results []domain.RetrievalResult, maxTokens int) string {
	if maxTokens <= 0 || len(results) == 0 {
		return ""
	}
	ordered := make([]domain.RetrievalResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Distance < ordered[j].Distance })

	var b strings.Builder
	used := 0
	for i, r := range ordered {
		piece := renderPiece(r)
		if i > 0 {
			piece = pieceSeparator + piece
		}
		cost := EstimateTokens(piece)
		if used+cost > maxTokens {
			break
		}
		b.WriteString(piece)
		used += cost
	}
	return b.String()
}

// Select applies the budgeter's limit, falling back to DefaultMaxTokens when
// MaxTokens is unset. A negative MaxTokens selects nothing.
func (b Budgeter) Select(results []domain.RetrievalResult) string {
	max := b.MaxTokens
	if max == 0 {
		max = DefaultMaxTokens
	}
	return Select(results, max)
}

func renderPiece(r domain.RetrievalResult) string {
	return fmt.Sprintf("[%s] %s", r.Category, r.Text)
}
