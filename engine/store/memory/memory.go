// Package memory is an in-process store with brute-force cosine search.
// It backs development runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
)

type row struct {
	chunk domain.StoredChunk
	seq   int
}

// Store keeps documents and chunks in memory.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]domain.Document
	chunks []row
	seq    int
	now    func() time.Time
}

var _ store.Backend = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]domain.Document), now: time.Now}
}

func (s *Store) CreateDocument(ctx context.Context, title, source string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, domain.NewStoreError("create document", err)
	}
	doc := domain.Document{ID: uuid.NewString(), Title: title, Source: source, CreatedAt: s.now().UTC()}

	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
	return doc, nil
}

// InsertChunks appends the whole batch under one lock, or nothing.
func (s *Store) InsertChunks(ctx context.Context, docID string, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError("insert chunks", err)
	}
	if err := store.CheckBatch(chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[docID]; !ok {
		return domain.NewStoreError("insert chunks", fmt.Errorf("%s: %w", docID, store.ErrDocumentNotFound))
	}
	if dim := s.dimLocked(); dim != 0 && len(chunks) > 0 && len(chunks[0].Embedding) != dim {
		return domain.NewStoreError("insert chunks", fmt.Errorf("embedding length %d, store holds %d", len(chunks[0].Embedding), dim))
	}

	now := s.now().UTC()
	for _, c := range chunks {
		s.seq++
		s.chunks = append(s.chunks, row{seq: s.seq, chunk: domain.StoredChunk{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Index:      c.Index,
			Content:    c.Content,
			Embedding:  append([]float32(nil), c.Embedding...),
			CreatedAt:  now,
		}})
	}
	return nil
}

func (s *Store) dimLocked() int {
	if len(s.chunks) == 0 {
		return 0
	}
	return len(s.chunks[0].chunk.Embedding)
}

// SimilaritySearch ranks every chunk by cosine similarity. Ties keep
// insertion order.
func (s *Store) SimilaritySearch(ctx context.Context, vec []float32, limit int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStoreError("similarity search", err)
	}
	if len(vec) == 0 {
		return nil, domain.NewValidationError("embedding", "", domain.ErrEmptyVector)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if dim := s.dimLocked(); dim != 0 && dim != len(vec) {
		return nil, domain.NewStoreError("similarity search", fmt.Errorf("query has %d dimensions, store holds %d", len(vec), dim))
	}

	results := make([]domain.SearchResult, 0, len(s.chunks))
	for _, r := range s.chunks {
		results = append(results, domain.SearchResult{
			ChunkID:    r.chunk.ID,
			DocumentID: r.chunk.DocumentID,
			ChunkIndex: r.chunk.Index,
			Content:    r.chunk.Content,
			Similarity: store.Cosine(vec, r.chunk.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		return domain.NewStoreError("delete document", fmt.Errorf("%s: %w", docID, store.ErrDocumentNotFound))
	}
	delete(s.docs, docID)
	kept := s.chunks[:0]
	for _, r := range s.chunks {
		if r.chunk.DocumentID != docID {
			kept = append(kept, r)
		}
	}
	s.chunks = kept
	return nil
}

func (s *Store) Stats(context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := domain.Stats{Documents: int64(len(s.docs)), Chunks: int64(len(s.chunks))}
	for _, r := range s.chunks {
		if len(r.chunk.Embedding) == 0 {
			st.ChunksMissingEmbedding++
		}
	}
	return st, nil
}

func (s *Store) SampleChunk(context.Context) (*domain.StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.chunks {
		if len(r.chunk.Embedding) > 0 {
			c := r.chunk
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) RecentChunks(_ context.Context, n int) ([]domain.StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n = max(n, 0)
	out := make([]domain.StoredChunk, 0, min(n, len(s.chunks)))
	for i := len(s.chunks) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.chunks[i].chunk)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }
