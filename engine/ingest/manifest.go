package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// Manifest columns. Extra columns such as word_count are ignored.
const (
	colChunkID    = "chunk_id"
	colSourceFile = "source_file"
	colCategory   = "category"
)

// ReadManifest parses a chunk manifest: a CSV file with a header naming at
// least chunk_id and source_file. A missing category becomes "unknown".
func ReadManifest(r io.Reader) ([]domain.ChunkRef, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: manifest header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{colChunkID, colSourceFile} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("ingest: manifest missing column %q", need)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var refs []domain.ChunkRef
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return refs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: manifest line %d: %w", line, err)
		}
		ref := domain.ChunkRef{
			ID:         field(row, colChunkID),
			SourceFile: field(row, colSourceFile),
			Category:   field(row, colCategory),
		}
		if ref.ID == "" || ref.SourceFile == "" {
			return nil, fmt.Errorf("ingest: manifest line %d: chunk_id and source_file are required", line)
		}
		if ref.Category == "" {
			ref.Category = "unknown"
		}
		refs = append(refs, ref)
	}
}

// ReadManifestFile opens path and parses it with ReadManifest.
func ReadManifestFile(path string) ([]domain.ChunkRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()
	return ReadManifest(f)
}
