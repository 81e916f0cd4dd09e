// Package postgres stores documents and chunks in PostgreSQL with the
// pgvector extension. Similarity is 1 minus the cosine distance.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
)

//go:embed schema.sql
var schema string

// pq error code for foreign_key_violation.
const fkViolation = "23503"

// Store is a store.Backend on a *sqlx.DB.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ store.Backend = (*Store)(nil)

// New wraps an open database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// Migrate creates the extension, tables and indexes for vectors of dim
// dimensions. It is idempotent.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("postgres: migrate: invalid dimension %d", dim)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schema, dim)); err != nil {
		return domain.NewStoreError("migrate", err)
	}
	return nil
}

func (s *Store) CreateDocument(ctx context.Context, title, source string) (domain.Document, error) {
	doc := domain.Document{ID: uuid.NewString(), Title: title, Source: source, CreatedAt: s.now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, source, created_at) VALUES ($1, $2, $3, $4)`,
		doc.ID, doc.Title, doc.Source, doc.CreatedAt)
	if err != nil {
		return domain.Document{}, domain.NewStoreError("create document", err)
	}
	return doc, nil
}

// InsertChunks writes the batch in a single transaction.
func (s *Store) InsertChunks(ctx context.Context, docID string, chunks []domain.Chunk) (err error) {
	if err := store.CheckBatch(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("insert chunks", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, content, embedding, created_at) VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return domain.NewStoreError("insert chunks", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, c := range chunks {
		_, err = stmt.ExecContext(ctx, uuid.NewString(), docID, c.Index, c.Content, pgvector.NewVector(c.Embedding), now)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == fkViolation {
				err = fmt.Errorf("%s: %w", docID, store.ErrDocumentNotFound)
			}
			return domain.NewStoreError("insert chunks", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.NewStoreError("insert chunks", err)
	}
	return nil
}

type resultRow struct {
	ChunkID    string  `db:"id"`
	DocumentID string  `db:"document_id"`
	ChunkIndex int     `db:"chunk_index"`
	Content    string  `db:"content"`
	Similarity float64 `db:"similarity"`
}

func (s *Store) SimilaritySearch(ctx context.Context, vec []float32, limit int) ([]domain.SearchResult, error) {
	if len(vec) == 0 {
		return nil, domain.NewValidationError("embedding", "", domain.ErrEmptyVector)
	}
	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, document_id, chunk_index, content,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, domain.NewStoreError("similarity search", err)
	}
	out := make([]domain.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = domain.SearchResult(r)
	}
	return out, nil
}

// DeleteDocument removes a document; its chunks go with it by cascade.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return domain.NewStoreError("delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError("delete document", err)
	}
	if n == 0 {
		return domain.NewStoreError("delete document", fmt.Errorf("%s: %w", docID, store.ErrDocumentNotFound))
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var st struct {
		Documents int64 `db:"documents"`
		Chunks    int64 `db:"chunks"`
		Missing   int64 `db:"missing"`
	}
	err := s.db.GetContext(ctx, &st, `
		SELECT (SELECT count(*) FROM documents) AS documents,
		       (SELECT count(*) FROM chunks) AS chunks,
		       (SELECT count(*) FROM chunks WHERE embedding IS NULL) AS missing`)
	if err != nil {
		return domain.Stats{}, domain.NewStoreError("stats", err)
	}
	return domain.Stats{Documents: st.Documents, Chunks: st.Chunks, ChunksMissingEmbedding: st.Missing}, nil
}

type chunkRow struct {
	ID         string    `db:"id"`
	DocumentID string    `db:"document_id"`
	ChunkIndex int       `db:"chunk_index"`
	Content    string    `db:"content"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r chunkRow) stored() domain.StoredChunk {
	return domain.StoredChunk{ID: r.ID, DocumentID: r.DocumentID, Index: r.ChunkIndex, Content: r.Content, CreatedAt: r.CreatedAt}
}

func (s *Store) SampleChunk(ctx context.Context) (*domain.StoredChunk, error) {
	var row struct {
		chunkRow
		Embedding pgvector.Vector `db:"embedding"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, document_id, chunk_index, content, created_at, embedding
		FROM chunks
		WHERE embedding IS NOT NULL
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStoreError("sample chunk", err)
	}
	c := row.stored()
	c.Embedding = row.Embedding.Slice()
	return &c, nil
}

func (s *Store) RecentChunks(ctx context.Context, n int) ([]domain.StoredChunk, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, document_id, chunk_index, content, created_at
		FROM chunks
		ORDER BY created_at DESC, chunk_index DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, domain.NewStoreError("recent chunks", err)
	}
	out := make([]domain.StoredChunk, len(rows))
	for i, r := range rows {
		out[i] = r.stored()
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return domain.NewStoreError("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error { return s.db.Close() }
