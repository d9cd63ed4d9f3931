package retrieve

import (
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// KTable maps a question's label and length to a result count. A zero
// class value means the class has no specific count, so the length rule
// decides.
type KTable struct {
	Simple     int
	Complex    int
	Comparison int
	Policy     int
	General    int

	LongWords int // questions with more words than this get Long
	Long      int
	Default   int
}

// DefaultKTable gives comparison and policy questions a moderate count.
var DefaultKTable = KTable{
	Simple:     3,
	Complex:    7,
	Comparison: 5,
	Policy:     5,
	LongWords:  15,
	Long:       6,
	Default:    4,
}

// RetrieverKTable only distinguishes simple and complex questions; all other
// labels fall through to the length rule.
var RetrieverKTable = KTable{
	Simple:    3,
	Complex:   7,
	LongWords: 15,
	Long:      6,
	Default:   4,
}

// For returns k for a question. The result is always at least 1.
func (t KTable) For(label domain.Label, question string) int {
	var k int
	switch label {
	case domain.LabelSimple:
		k = t.Simple
	case domain.LabelComplex:
		k = t.Complex
	case domain.LabelComparison:
		k = t.Comparison
	case domain.LabelPolicy:
		k = t.Policy
	case domain.LabelGeneral:
		k = t.General
	}
	if k > 0 {
		return k
	}
	if t.LongWords > 0 && len(strings.Fields(question)) > t.LongWords && t.Long > 0 {
		return t.Long
	}
	if t.Default > 0 {
		return t.Default
	}
	return 1
}
