package retrieve

import (
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// DefaultAllowKeywords are the topics the student-services corpus covers.
var DefaultAllowKeywords = []string{
	"policy", "accessibility", "accommodation", "aoda", "learning",
	"student", "co-op", "coop", "faq", "disability", "services", "inclusion",
}

// AllowList restricts results to chunks whose category or source file
// mentions one of Keywords. Candidates are drawn from a wider search of
// SearchWidth neighbours.
type AllowList struct {
	Keywords    []string
	SearchWidth int
}

// DefaultAllowList searches 20 neighbours against DefaultAllowKeywords.
func DefaultAllowList() *AllowList {
	return &AllowList{Keywords: DefaultAllowKeywords, SearchWidth: 20}
}

// Allows reports whether ref matches a keyword, ignoring case.
func (a *AllowList) Allows(ref domain.ChunkRef) bool {
	category := strings.ToLower(ref.Category)
	file := strings.ToLower(ref.SourceFile)
	for _, kw := range a.Keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(category, kw) || strings.Contains(file, kw) {
			return true
		}
	}
	return false
}

func (a *AllowList) width(k int) int {
	if a.SearchWidth > k {
		return a.SearchWidth
	}
	return k
}
