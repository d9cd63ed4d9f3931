package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// FileLoader reads chunks from a directory of plain text files named
// <source stem>_chunk_<id>.txt, e.g. aoda.pdf chunk 3 is aoda_chunk_3.txt.
type FileLoader struct {
	Dir string
}

// Path returns the file that holds ref.
func (f FileLoader) Path(ref domain.ChunkRef) string {
	base := filepath.Base(ref.SourceFile)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(f.Dir, fmt.Sprintf("%s_chunk_%s.txt", stem, filepath.Base(ref.ID)))
}

// Load implements Loader.
func (f FileLoader) Load(_ context.Context, ref domain.ChunkRef) (string, error) {
	b, err := os.ReadFile(f.Path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", f.Path(ref), domain.ErrChunkNotFound)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Chain tries each loader in order and returns the first hit. Only
// not-found errors fall through to the next loader.
func Chain(loaders ...Loader) Loader {
	return LoaderFunc(func(ctx context.Context, ref domain.ChunkRef) (string, error) {
		for _, l := range loaders {
			text, err := l.Load(ctx, ref)
			if err == nil {
				return text, nil
			}
			if !errors.Is(err, domain.ErrChunkNotFound) {
				return "", err
			}
		}
		return "", fmt.Errorf("%s: %w", ref.Key(), domain.ErrChunkNotFound)
	})
}
