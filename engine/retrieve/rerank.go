package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/pkg/fn"
)

// MalformedPolicy decides what happens to candidates whose relevance score
// could not be parsed.
type MalformedPolicy int

const (
	// RankLast scores malformed candidates 0 and orders them after every
	// well-formed score.
	RankLast MalformedPolicy = iota
	// Exclude drops malformed candidates.
	Exclude
)

// ParseMalformedPolicy maps "exclude" to Exclude and anything else to RankLast.
func ParseMalformedPolicy(s string) MalformedPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "exclude") {
		return Exclude
	}
	return RankLast
}

const rerankPrompt = "Rate the relevance of the following text to the question:\n\nQuestion: %s\nText: %s\n\nScore (0-10):"

// RerankPrompt builds the scoring prompt for one candidate.
func RerankPrompt(question, text string) string {
	return fmt.Sprintf(rerankPrompt, question, text)
}

// ParseScore reads a relevance score. Only a bare integer in [0,10] is
// well-formed.
func ParseScore(out string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n < 0 || n > 10 {
		return 0, false
	}
	return n, true
}

// rerank scores every candidate with gen and keeps the best topN. A failed
// or unparsable score never aborts the others.
func (r *Retriever) rerank(ctx context.Context, question string, in []domain.RetrievalResult, gen Generator) []domain.RetrievalResult {
	scored := fn.ParMap(in, r.opts.RerankWorkers, func(res domain.RetrievalResult) domain.RetrievalResult {
		out := gen.Generate(ctx, RerankPrompt(question, res.Text))
		score, ok := ParseScore(out)
		if !ok {
			r.logger.Warn("rerank score malformed", "key", res.Ref().Key(), "output", truncate(out, 80))
		}
		res.Score, res.Scored = score, ok
		return res
	})

	if r.opts.MalformedScores == Exclude {
		scored = fn.Filter(scored, func(res domain.RetrievalResult) bool { return res.Scored })
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Scored != b.Scored {
			return a.Scored
		}
		return a.Distance < b.Distance
	})

	if n := r.opts.RerankTopN; n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
