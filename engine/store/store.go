// Package store defines the persistence contracts of the pipeline. A
// backend owns documents and their chunks and answers nearest-neighbour
// queries over chunk embeddings.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/secondbrain/brain/engine/domain"
)

// ErrDocumentNotFound is wrapped by InsertChunks and DeleteDocument when
// the document does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// Store is what the ingestion and retrieval coordinators need.
type Store interface {
	// CreateDocument creates a document with a fresh id.
	CreateDocument(ctx context.Context, title, source string) (domain.Document, error)
	// InsertChunks writes all chunks of a document as one logical write.
	// On error none of them are persisted. Backends that write to two
	// systems may expose some of them to SimilaritySearch while the write
	// is in flight, and until compensation succeeds if it fails.
	InsertChunks(ctx context.Context, docID string, chunks []domain.Chunk) error
	// SimilaritySearch returns at most limit chunks ordered by
	// descending similarity to vec.
	SimilaritySearch(ctx context.Context, vec []float32, limit int) ([]domain.SearchResult, error)
}

// Inspector exposes read-only views used by operational tooling.
type Inspector interface {
	Stats(ctx context.Context) (domain.Stats, error)
	// SampleChunk returns any chunk that has an embedding, or nil when
	// there is none.
	SampleChunk(ctx context.Context) (*domain.StoredChunk, error)
	// RecentChunks returns the n most recently created chunks.
	RecentChunks(ctx context.Context, n int) ([]domain.StoredChunk, error)
}

// Backend is a complete store implementation.
type Backend interface {
	Store
	Inspector
	// DeleteDocument removes a document and all of its chunks.
	DeleteDocument(ctx context.Context, docID string) error
	Ping(ctx context.Context) error
	Close() error
}

// CheckBatch verifies a chunk batch before it is written: indexes run
// 0..n-1 in order, content is non-empty, and every embedding is non-empty
// with one shared length.
func CheckBatch(chunks []domain.Chunk) error {
	for i, c := range chunks {
		if c.Index != i {
			return &domain.ConsistencyError{Msg: fmt.Sprintf("chunk %d has index %d", i, c.Index)}
		}
		if c.Content == "" {
			return &domain.ConsistencyError{Msg: fmt.Sprintf("chunk %d has no content", i)}
		}
		if len(c.Embedding) == 0 {
			return &domain.ConsistencyError{Msg: fmt.Sprintf("chunk %d has no embedding", i), Wrapped: domain.ErrEmptyVector}
		}
		if len(c.Embedding) != len(chunks[0].Embedding) {
			return &domain.ConsistencyError{Msg: fmt.Sprintf("chunk %d embedding has length %d, want %d", i, len(c.Embedding), len(chunks[0].Embedding))}
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either has
// zero norm. The vectors must have equal length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
