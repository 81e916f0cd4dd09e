package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/repo"
)

// GraphStore provides document and chunk operations on top of the generic
// Neo4j repository.
type GraphStore struct {
	sessions repo.SessionFactory
	docs     *repo.Neo4jRepo[domain.Document, string]
	chunks   *repo.Neo4jRepo[domain.StoredChunk, string]
	now      func() time.Time
}

// New creates a GraphStore.
func New(sessions repo.SessionFactory) *GraphStore {
	return &GraphStore{
		sessions: sessions,
		docs:     repo.NewNeo4jRepo[domain.Document, string](sessions, LabelDocument, documentToMap, documentFromRecord),
		chunks:   repo.NewNeo4jRepo[domain.StoredChunk, string](sessions, LabelChunk, chunkToMap, chunkFromRecord),
		now:      time.Now,
	}
}

var schema = []string{
	`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
	`CREATE INDEX chunk_created_at IF NOT EXISTS FOR (c:Chunk) ON (c.created_at)`,
}

// EnsureSchema creates uniqueness constraints and indexes. It is idempotent.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	sess := g.sessions(ctx)
	defer sess.Close(ctx)
	for _, cypher := range schema {
		if _, err := sess.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("graph: schema: %w", err)
		}
	}
	return nil
}

// CreateDocument creates a Document node with a fresh id.
func (g *GraphStore) CreateDocument(ctx context.Context, title, source string) (domain.Document, error) {
	doc := domain.Document{ID: uuid.NewString(), Title: title, Source: source, CreatedAt: g.now().UTC()}
	created, err := g.docs.Create(ctx, doc)
	if err != nil {
		return domain.Document{}, fmt.Errorf("graph: create document: %w", err)
	}
	return created, nil
}

// GetDocument returns a document or an error wrapping repo.ErrNotFound.
func (g *GraphStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return g.docs.Get(ctx, id)
}

// SaveChunks attaches chunks to their document in a single write
// transaction. It fails with store.ErrDocumentNotFound when the document
// does not exist.
func (g *GraphStore) SaveChunks(ctx context.Context, docID string, chunks []domain.StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkToMap(c)
	}

	sess := g.sessions(ctx)
	defer sess.Close(ctx)

	return sess.ExecuteWrite(ctx, func(tx repo.Runner) error {
		res, err := tx.Run(ctx, `MATCH (d:Document {id: $id}) RETURN d.id AS id`, map[string]any{"id": docID})
		if err != nil {
			return fmt.Errorf("graph: match document: %w", err)
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return err
			}
			return fmt.Errorf("graph: %s: %w", docID, store.ErrDocumentNotFound)
		}

		_, err = tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			UNWIND $chunks AS c
			CREATE (d)-[:`+RelHasChunk+`]->(:Chunk {
				id: c.id, document_id: c.document_id, chunk_index: c.chunk_index,
				content: c.content, created_at: c.created_at
			})`, map[string]any{"id": docID, "chunks": rows})
		if err != nil {
			return fmt.Errorf("graph: create %d chunks: %w", len(chunks), err)
		}
		return nil
	})
}

// DeleteDocument removes a document and its chunks. It fails with
// store.ErrDocumentNotFound when the document does not exist.
func (g *GraphStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := g.GetDocument(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("graph: %s: %w", id, store.ErrDocumentNotFound)
		}
		return fmt.Errorf("graph: get document: %w", err)
	}

	sess := g.sessions(ctx)
	defer sess.Close(ctx)
	return sess.ExecuteWrite(ctx, func(tx repo.Runner) error {
		_, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			OPTIONAL MATCH (d)-[:`+RelHasChunk+`]->(c:Chunk)
			DETACH DELETE c, d`, map[string]any{"id": id})
		if err != nil {
			return fmt.Errorf("graph: delete document: %w", err)
		}
		return nil
	})
}

// RecentChunks returns the n most recently created chunks.
func (g *GraphStore) RecentChunks(ctx context.Context, n int) ([]domain.StoredChunk, error) {
	return g.chunks.List(ctx, repo.ListOpts{Limit: n, OrderBy: "created_at"})
}
