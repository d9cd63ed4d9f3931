// Package classify assigns an intent label to a question by ordered keyword
// rules.
package classify

import (
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// Rule maps a set of substring triggers to a label.
type Rule struct {
	Label    domain.Label
	Triggers []string
}

// Classifier checks its rules in order; the first rule with a trigger
// contained in the lower-cased question wins.
type Classifier struct {
	rules []Rule
}

// New returns a classifier over rules. A nil or empty table always yields
// LabelGeneral.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns a classifier over the canonical table.
func Default() *Classifier { return New(Canonical) }

// Classify never fails. Empty or unmatched questions are LabelGeneral.
func (c *Classifier) Classify(question string) domain.Label {
	q := strings.ToLower(question)
	for _, r := range c.rules {
		for _, t := range r.Triggers {
			if t != "" && strings.Contains(q, t) {
				return r.Label
			}
		}
	}
	return domain.LabelGeneral
}
