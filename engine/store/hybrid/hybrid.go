// Package hybrid keeps documents and chunk text in the Neo4j graph and
// chunk vectors in Qdrant.
package hybrid

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/graph"
	"github.com/secondbrain/brain/engine/semantic"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/fn"
)

// Vectors is the Qdrant side.
type Vectors interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	DeleteByDocID(ctx context.Context, docID string) error
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.Hit, error)
	Count(ctx context.Context) (int64, error)
	Sample(ctx context.Context) (*semantic.Point, error)
}

// Graph is the Neo4j side.
type Graph interface {
	CreateDocument(ctx context.Context, title, source string) (domain.Document, error)
	SaveChunks(ctx context.Context, docID string, chunks []domain.StoredChunk) error
	DeleteDocument(ctx context.Context, id string) error
	RecentChunks(ctx context.Context, n int) ([]domain.StoredChunk, error)
	NodeCounts(ctx context.Context) (map[string]int64, error)
}

// Store is a store.Backend over a graph and a vector index.
type Store struct {
	vectors Vectors
	graph   Graph
	log     *slog.Logger
	closers []func() error
	now     func() time.Time
	batch   int
	retry   fn.RetryOpts
}

// DefaultUpsertBatch is the number of points sent per Qdrant upsert.
const DefaultUpsertBatch = 256

var defaultCompensationRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second}

var _ store.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCloser registers a function run by Close, e.g. closing a driver.
func WithCloser(fn func() error) Option {
	return func(s *Store) { s.closers = append(s.closers, fn) }
}

// WithUpsertBatch sets how many points go into one Qdrant upsert.
func WithUpsertBatch(n int) Option {
	return func(s *Store) { s.batch = n }
}

// WithCompensationRetry sets the retry policy of the compensating vector
// delete.
func WithCompensationRetry(opts fn.RetryOpts) Option {
	return func(s *Store) { s.retry = opts }
}

// New creates a hybrid Store.
func New(vectors Vectors, g Graph, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{vectors: vectors, graph: g, log: logger, now: time.Now, batch: DefaultUpsertBatch, retry: defaultCompensationRetry}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) CreateDocument(ctx context.Context, title, source string) (domain.Document, error) {
	doc, err := s.graph.CreateDocument(ctx, title, source)
	if err != nil {
		return domain.Document{}, domain.NewStoreError("create document", err)
	}
	return doc, nil
}

// InsertChunks upserts the vectors first, in batches, then writes the
// chunk nodes in one graph transaction. If either write fails the vectors
// of the document are deleted again.
func (s *Store) InsertChunks(ctx context.Context, docID string, chunks []domain.Chunk) error {
	if err := store.CheckBatch(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	now := s.now().UTC()
	records := make([]semantic.VectorRecord, len(chunks))
	nodes := make([]domain.StoredChunk, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		records[i] = semantic.VectorRecord{ID: id, DocID: docID, ChunkIndex: c.Index, Content: c.Content, Embedding: c.Embedding}
		nodes[i] = domain.StoredChunk{ID: id, DocumentID: docID, Index: c.Index, Content: c.Content, CreatedAt: now}
	}

	for i, batch := range fn.Chunk(records, s.batch) {
		if err := s.vectors.Upsert(ctx, batch); err != nil {
			if i > 0 {
				err = s.compensate(ctx, docID, err)
			}
			return domain.NewStoreError("insert chunks", err)
		}
	}
	if err := s.graph.SaveChunks(ctx, docID, nodes); err != nil {
		return domain.NewStoreError("insert chunks", s.compensate(ctx, docID, err))
	}
	return nil
}

// compensate removes the vectors written for docID and returns cause,
// joined with the delete error if that failed too.
func (s *Store) compensate(ctx context.Context, docID string, cause error) error {
	// The caller's context may already be done; compensation must still run.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err := fn.Retry(cctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.vectors.DeleteByDocID(ctx, docID)
	})
	if err != nil {
		s.log.Error("hybrid: compensating vector delete failed", "doc_id", docID, "err", err)
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Store) SimilaritySearch(ctx context.Context, vec []float32, limit int) ([]domain.SearchResult, error) {
	if len(vec) == 0 {
		return nil, domain.NewValidationError("embedding", "", domain.ErrEmptyVector)
	}
	hits, err := s.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, domain.NewStoreError("similarity search", err)
	}
	out := make([]domain.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = domain.SearchResult{
			ChunkID:    h.ID,
			DocumentID: h.DocID,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Content,
			Similarity: float64(h.Score),
		}
	}
	return out, nil
}

// DeleteDocument removes the graph nodes first, then the vectors.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.graph.DeleteDocument(ctx, docID); err != nil {
		return domain.NewStoreError("delete document", err)
	}
	return domain.NewStoreError("delete document", s.vectors.DeleteByDocID(ctx, docID))
}

// Stats counts graph nodes. Chunks without a vector are the graph chunks
// the vector index does not hold; vectors beyond the graph's chunk count
// are reported as orphaned. They come from in-flight or failed writes.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	counts, err := s.graph.NodeCounts(ctx)
	if err != nil {
		return domain.Stats{}, domain.NewStoreError("stats", err)
	}
	vectors, err := s.vectors.Count(ctx)
	if err != nil {
		return domain.Stats{}, domain.NewStoreError("stats", err)
	}
	st := domain.Stats{Documents: counts[graph.LabelDocument], Chunks: counts[graph.LabelChunk]}
	st.ChunksMissingEmbedding = max(st.Chunks-vectors, 0)
	st.OrphanedVectors = max(vectors-st.Chunks, 0)
	return st, nil
}

func (s *Store) SampleChunk(ctx context.Context) (*domain.StoredChunk, error) {
	p, err := s.vectors.Sample(ctx)
	if err != nil {
		return nil, domain.NewStoreError("sample chunk", err)
	}
	if p == nil {
		return nil, nil
	}
	return &domain.StoredChunk{
		ID:         p.ID,
		DocumentID: p.DocID,
		Index:      p.ChunkIndex,
		Content:    p.Content,
		Embedding:  p.Embedding,
	}, nil
}

func (s *Store) RecentChunks(ctx context.Context, n int) ([]domain.StoredChunk, error) {
	chunks, err := s.graph.RecentChunks(ctx, n)
	if err != nil {
		return nil, domain.NewStoreError("recent chunks", err)
	}
	return chunks, nil
}

// Ping checks both backends.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.graph.NodeCounts(ctx); err != nil {
		return domain.NewStoreError("ping graph", err)
	}
	if _, err := s.vectors.Count(ctx); err != nil {
		return domain.NewStoreError("ping vectors", err)
	}
	return nil
}

func (s *Store) Close() error {
	var errs []error
	for _, fn := range s.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
