package rag

import (
	"fmt"
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// DefaultInstitution is named in the assistant persona.
const DefaultInstitution = "George Brown College"

// PromptBuilder renders a prompt from the selected context and the question.
type PromptBuilder func(context, question string) string

// Templates holds one builder per label.
type Templates struct {
	Simple     PromptBuilder
	Complex    PromptBuilder
	Comparison PromptBuilder
	Policy     PromptBuilder
	General    PromptBuilder
}

// DefaultTemplates returns the built-in prompts for an institution.
func DefaultTemplates(institution string) Templates {
	if institution == "" {
		institution = DefaultInstitution
	}
	return Templates{
		Simple: func(ctx, q string) string {
			return fmt.Sprintf("You are a concise and helpful assistant. Answer clearly using only the information below.\n\n%s\n\nQ: %s\nA:", ctx, q)
		},
		Complex: func(ctx, q string) string {
			return fmt.Sprintf("You are a %s assistant. Provide a detailed answer using the relevant information below.\n\n%s\n\nQuestion: %s\nAnswer (include steps if applicable):", institution, ctx, q)
		},
		Comparison: func(ctx, q string) string {
			return fmt.Sprintf("You are a %s assistant. Compare the options side by side using only the information below, and state clearly where they differ.\n\n%s\n\nComparison question: %s\nAnswer:", institution, ctx, q)
		},
		Policy: func(ctx, q string) string {
			return fmt.Sprintf("You are a %s assistant. Respond with a clear summary of the policy, including any exceptions.\n\n%s\n\nPolicy question: %s\nAnswer:", institution, ctx, q)
		},
		General: func(ctx, q string) string {
			return fmt.Sprintf("You are a helpful assistant at %s. Respond naturally and informatively using the information below.\n\n%s\n\nQuestion: %s\nAnswer:", institution, ctx, q)
		},
	}
}

// For returns the builder for l. Unset builders and unknown labels use
// General.
func (t Templates) For(l domain.Label) PromptBuilder {
	var b PromptBuilder
	switch l {
	case domain.LabelSimple:
		b = t.Simple
	case domain.LabelComplex:
		b = t.Complex
	case domain.LabelComparison:
		b = t.Comparison
	case domain.LabelPolicy:
		b = t.Policy
	case domain.LabelGeneral:
		b = t.General
	}
	if b == nil {
		b = t.General
	}
	if b == nil {
		b = DefaultTemplates("").General
	}
	return b
}

// historyBlock renders the last turns as a transcript, oldest first.
func historyBlock(turns []domain.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, t := range turns {
		fmt.Fprintf(&b, "\nUser: %s\nAssistant: %s", t.Question, t.Answer)
	}
	return b.String()
}

// FormatSource renders a passage for display under an answer.
func FormatSource(r domain.RetrievalResult) string {
	return fmt.Sprintf("📜 %s (Chunk %s)\n%s", r.SourceFile, r.ID, r.Text)
}
