package chunkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/pkg/repo"
)

// ChunkLabel is the node label chunk passages are stored under.
const ChunkLabel = "Chunk"

// NewChunkRepo returns a repository of Chunk nodes keyed by ChunkRef.Key.
func NewChunkRepo(driver neo4j.DriverWithContext, database string) *repo.Neo4jRepo[domain.Chunk, string] {
	return repo.NewNeo4jRepo[domain.Chunk, string](
		driver, ChunkLabel, chunkToMap, chunkFromRecord,
		repo.WithIDKey[domain.Chunk, string]("key"),
		repo.WithDatabase[domain.Chunk, string](database),
	)
}

func chunkToMap(c domain.Chunk) map[string]any {
	return map[string]any{
		"key":         c.Ref().Key(),
		"chunk_id":    c.ID,
		"source_file": c.SourceFile,
		"category":    c.Category,
		"text":        c.Text,
	}
}

func chunkFromRecord(rec *neo4j.Record) (domain.Chunk, error) {
	if rec == nil || len(rec.Values) == 0 {
		return domain.Chunk{}, errors.New("chunkstore: empty record")
	}
	var props map[string]any
	switch v := rec.Values[0].(type) {
	case neo4j.Node:
		props = v.Props
	case map[string]any:
		props = v
	default:
		return domain.Chunk{}, fmt.Errorf("chunkstore: unexpected record value %T", v)
	}
	str := func(k string) string {
		s, _ := props[k].(string)
		return s
	}
	return domain.Chunk{
		ID:         str("chunk_id"),
		SourceFile: str("source_file"),
		Category:   str("category"),
		Text:       str("text"),
	}, nil
}

// RepoLoader loads chunk text from a repository keyed by ChunkRef.Key.
type RepoLoader struct {
	Repo repo.Repository[domain.Chunk, string]
}

// Load implements Loader.
func (l RepoLoader) Load(ctx context.Context, ref domain.ChunkRef) (string, error) {
	c, err := l.Repo.Get(ctx, ref.Key())
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", ref.Key(), domain.ErrChunkNotFound)
	}
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// Save writes chunks to the repository.
func (l RepoLoader) Save(ctx context.Context, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if _, err := l.Repo.Put(ctx, c); err != nil {
			return fmt.Errorf("chunkstore: save %s: %w", c.Ref().Key(), err)
		}
	}
	return nil
}
