package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine index held in process. It serves local
// runs and tests where no Qdrant instance is available.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]VectorRecord
	dims    int
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]VectorRecord)}
}

// EnsureCollection fixes the dimension of an empty index.
func (m *MemoryIndex) EnsureCollection(_ context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 {
		m.dims = dims
	} else if m.dims != dims {
		return fmt.Errorf("semantic: memory index has dimension %d, not %d", m.dims, dims)
	}
	return nil
}

// Upsert adds or replaces records. All vectors must share one dimension.
func (m *MemoryIndex) Upsert(_ context.Context, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.dims == 0 {
			m.dims = len(r.Embedding)
		}
		if len(r.Embedding) != m.dims {
			return fmt.Errorf("semantic: memory upsert %s: dimension %d, want %d", r.Ref.Key(), len(r.Embedding), m.dims)
		}
		id := r.ID
		if id == "" {
			id = PointID(r.Ref)
		}
		m.records[id] = r
	}
	return nil
}

// DeleteBySource removes every record of one source file.
func (m *MemoryIndex) DeleteBySource(_ context.Context, sourceFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.Ref.SourceFile == sourceFile {
			delete(m.records, id)
		}
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Search returns at most k neighbours ordered by cosine distance, ties broken
// by chunk key.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("semantic: memory search: %w", err)
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dims != 0 && len(vector) != m.dims {
		return nil, fmt.Errorf("semantic: memory search: dimension %d, want %d", len(vector), m.dims)
	}

	out := make([]Neighbor, 0, len(m.records))
	for _, r := range m.records {
		ref := r.Ref
		if ref.ID == "" {
			ref.ID = unknown
		}
		if ref.SourceFile == "" {
			ref.SourceFile = unknown
		}
		if ref.Category == "" {
			ref.Category = unknown
		}
		out = append(out, Neighbor{ChunkRef: ref, Distance: cosineDistance(vector, r.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Key() < out[j].Key()
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
