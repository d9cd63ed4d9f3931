// Package domain defines the core types, labels and validation shared by the
// AskGeorge retrieval and answer pipeline.
package domain

import (
	"fmt"
	"time"
)

// Chunk is one retrievable passage of a source document.
type Chunk struct {
	ID         string `json:"chunk_id"`
	SourceFile string `json:"source_file"`
	Category   string `json:"category"`
	Text       string `json:"text"`
}

// Ref returns the identifying part of the chunk.
func (c Chunk) Ref() ChunkRef {
	return ChunkRef{ID: c.ID, SourceFile: c.SourceFile, Category: c.Category}
}

// ChunkRef is what a vector index returns for a neighbour: enough to locate
// the chunk text but not the text itself.
type ChunkRef struct {
	ID         string `json:"chunk_id"`
	SourceFile string `json:"source_file"`
	Category   string `json:"category"`
}

// Key is the stable cache key of the referenced chunk.
func (r ChunkRef) Key() string {
	return fmt.Sprintf("%s#%s", r.SourceFile, r.ID)
}

// RetrievalResult is a hydrated chunk with its similarity distance. Lower
// distance means more similar. Score and Scored are only set by reranking.
type RetrievalResult struct {
	Chunk
	Distance float64 `json:"distance"`
	Score    int     `json:"score,omitempty"`
	Scored   bool    `json:"scored,omitempty"`
}

// Label is the intent class of a question.
type Label string

const (
	LabelSimple     Label = "simple"
	LabelComplex    Label = "complex"
	LabelComparison Label = "comparison"
	LabelPolicy     Label = "policy"
	LabelGeneral    Label = "general"
)

// Labels lists every label. LabelGeneral is the fallback.
var Labels = []Label{LabelSimple, LabelComplex, LabelComparison, LabelPolicy, LabelGeneral}

// Valid reports whether l is one of Labels.
func (l Label) Valid() bool {
	for _, x := range Labels {
		if l == x {
			return true
		}
	}
	return false
}

// Turn is one question/answer exchange of a conversation.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// User-facing answers returned instead of errors.
const (
	NoInformationAnswer  = "❌ I couldn't find relevant information to answer your question."
	EmptyQuestionMessage = "⚠️ Please enter a valid question."
)
