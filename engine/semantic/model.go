package semantic

import (
	"github.com/google/uuid"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// Payload keys written with every point.
const (
	keyChunkID    = "chunk_id"
	keySourceFile = "source_file"
	keyCategory   = "category"
	keyText       = "text"
)

// unknown fills metadata fields missing from a stored point.
const unknown = "unknown"

// Neighbor is a single nearest-neighbour hit. Lower Distance is more similar.
type Neighbor struct {
	domain.ChunkRef
	Distance float64           `json:"distance"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// VectorRecord is a single chunk embedding to store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Ref       domain.ChunkRef
	Text      string         // optional; stored alongside the metadata
	Payload   map[string]any // extra payload fields
}

var pointNamespace = uuid.MustParse("6f1c3a52-8d7e-4b1f-9a0c-2e5d7b9c4f10")

// PointID derives a stable point UUID from a chunk reference, so re-upserting
// the same chunk replaces its point.
func PointID(ref domain.ChunkRef) string {
	return uuid.NewSHA1(pointNamespace, []byte(ref.Key())).String()
}

func refFromMeta(meta map[string]string) domain.ChunkRef {
	ref := domain.ChunkRef{
		ID:         meta[keyChunkID],
		SourceFile: meta[keySourceFile],
		Category:   meta[keyCategory],
	}
	if ref.ID == "" {
		ref.ID = unknown
	}
	if ref.SourceFile == "" {
		ref.SourceFile = unknown
	}
	if ref.Category == "" {
		ref.Category = unknown
	}
	delete(meta, keyChunkID)
	delete(meta, keySourceFile)
	delete(meta, keyCategory)
	return ref
}
