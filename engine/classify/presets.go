package classify

import (
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// Canonical checks policy first so that a policy trigger anywhere in the
// question wins over definitional phrasing ("what is the AODA policy").
var Canonical = []Rule{
	{Label: domain.LabelPolicy, Triggers: []string{"policy", "policies", "rule", "regulation", "allowed", "permitted", "can i", "compliance"}},
	{Label: domain.LabelComparison, Triggers: []string{"versus", "vs", "difference", "compare"}},
	{Label: domain.LabelComplex, Triggers: []string{"how to", "how do", "process", "steps", "procedure", "requirement", "instructions", "guide"}},
	{Label: domain.LabelSimple, Triggers: []string{"what is", "define", "meaning of", "explain", "give me a definition"}},
}

// RetrieverPreset is the table the retriever historically used to pick k.
var RetrieverPreset = []Rule{
	{Label: domain.LabelSimple, Triggers: []string{"what is", "define", "explain"}},
	{Label: domain.LabelComplex, Triggers: []string{"how to", "process", "steps", "requirements"}},
	{Label: domain.LabelComparison, Triggers: []string{"vs", "versus", "difference", "compare"}},
	{Label: domain.LabelPolicy, Triggers: []string{"policy", "rule", "regulation", "allowed"}},
}

// AnswerPreset is the table the answer composer historically used to pick a
// template. Identity questions map to general explicitly.
var AnswerPreset = []Rule{
	{Label: domain.LabelSimple, Triggers: []string{"what is", "define", "meaning of", "explain", "give me a definition"}},
	{Label: domain.LabelComplex, Triggers: []string{"how do", "how to", "steps", "process", "procedure", "guide", "requirement", "instructions"}},
	{Label: domain.LabelPolicy, Triggers: []string{"policy", "rule", "allowed", "not allowed", "can i", "permitted", "regulation", "compliance"}},
	{Label: domain.LabelGeneral, Triggers: []string{"who are you", "what can you do", "your purpose", "what is this", "introduce yourself"}},
}

// Preset resolves a table by name. Unknown names return Canonical.
func Preset(name string) []Rule {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "retriever":
		return RetrieverPreset
	case "answer":
		return AnswerPreset
	default:
		return Canonical
	}
}
