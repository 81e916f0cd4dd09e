package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
)

func seed(t *testing.T, s *Store, vecs ...[]float32) domain.Document {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), "doc", "test")
	if err != nil {
		t.Fatal(err)
	}
	chunks := make([]domain.Chunk, len(vecs))
	for i, v := range vecs {
		chunks[i] = domain.Chunk{Index: i, Content: string(rune('a' + i)), Embedding: v}
	}
	if err := s.InsertChunks(context.Background(), doc.ID, chunks); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestCreateDocumentAssignsDistinctIDs(t *testing.T) {
	s := New()
	a, _ := s.CreateDocument(context.Background(), "a", "")
	b, _ := s.CreateDocument(context.Background(), "b", "")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestSimilaritySearchOrdersByCosine(t *testing.T) {
	s := New()
	seed(t, s, []float32{0, 1}, []float32{1, 0}, []float32{1, 1})

	res, err := s.SimilaritySearch(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	if res[0].Content != "b" || res[1].Content != "c" || res[2].Content != "a" {
		t.Errorf("unexpected order: %q %q %q", res[0].Content, res[1].Content, res[2].Content)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Similarity > res[i-1].Similarity {
			t.Fatal("results not in descending order")
		}
	}
	if res[0].Similarity < 0.999 {
		t.Errorf("expected ~1 for identical direction, got %f", res[0].Similarity)
	}
}

func TestSimilaritySearchLimit(t *testing.T) {
	s := New()
	seed(t, s, []float32{1, 0}, []float32{1, 1}, []float32{0, 1})
	res, err := s.SimilaritySearch(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
}

func TestSimilaritySearchEmptyStore(t *testing.T) {
	res, err := New().SimilaritySearch(context.Background(), []float32{1}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || len(res) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", res)
	}
}

func TestSimilaritySearchDimensionMismatch(t *testing.T) {
	s := New()
	seed(t, s, []float32{1, 0})
	_, err := s.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 5)
	if !domain.IsStore(err) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestInsertChunksUnknownDocument(t *testing.T) {
	s := New()
	err := s.InsertChunks(context.Background(), "missing", []domain.Chunk{{Index: 0, Content: "x", Embedding: []float32{1}}})
	if !domain.IsStore(err) || !errors.Is(err, store.ErrDocumentNotFound) {
		t.Fatalf("expected StoreError wrapping ErrDocumentNotFound, got %v", err)
	}
}

func TestInsertChunksAllOrNothing(t *testing.T) {
	s := New()
	doc, _ := s.CreateDocument(context.Background(), "d", "")
	bad := []domain.Chunk{
		{Index: 0, Content: "ok", Embedding: []float32{1, 0}},
		{Index: 1, Content: "bad", Embedding: nil},
	}
	if err := s.InsertChunks(context.Background(), doc.ID, bad); err == nil {
		t.Fatal("expected error")
	}
	st, _ := s.Stats(context.Background())
	if st.Chunks != 0 {
		t.Fatalf("expected no chunks after failed insert, got %d", st.Chunks)
	}
}

func TestInsertChunksCancelled(t *testing.T) {
	s := New()
	doc, _ := s.CreateDocument(context.Background(), "d", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.InsertChunks(ctx, doc.ID, []domain.Chunk{{Index: 0, Content: "x", Embedding: []float32{1}}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInspection(t *testing.T) {
	s := New()
	ctx := context.Background()

	if c, err := s.SampleChunk(ctx); err != nil || c != nil {
		t.Fatalf("expected nil sample on empty store, got %v %v", c, err)
	}

	seed(t, s, []float32{1, 0}, []float32{0, 1})
	seed(t, s, []float32{1, 1})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 2 || st.Chunks != 3 || st.WithEmbedding() != 3 {
		t.Errorf("unexpected stats %+v", st)
	}

	sample, _ := s.SampleChunk(ctx)
	if sample == nil || len(sample.Embedding) != 2 {
		t.Fatalf("expected sample with embedding, got %+v", sample)
	}

	recent, _ := s.RecentChunks(ctx, 2)
	if len(recent) != 2 || recent[0].Content != "a" || recent[0].Index != 0 {
		t.Fatalf("expected newest chunk first, got %+v", recent)
	}

	if recent, err := s.RecentChunks(ctx, -1); err != nil || len(recent) != 0 {
		t.Fatalf("expected no chunks for negative n, got %+v %v", recent, err)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := New()
	doc := seed(t, s, []float32{1, 0}, []float32{0, 1})
	keep := seed(t, s, []float32{1, 1})

	if err := s.DeleteDocument(context.Background(), doc.ID); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Stats(context.Background())
	if st.Documents != 1 || st.Chunks != 1 {
		t.Fatalf("unexpected stats after delete %+v", st)
	}
	res, _ := s.SimilaritySearch(context.Background(), []float32{1, 0}, 5)
	if len(res) != 1 || res[0].DocumentID != keep.ID {
		t.Fatalf("expected only the kept document, got %+v", res)
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	s := New()
	seed(t, s, []float32{1, 0})
	err := s.DeleteDocument(context.Background(), "missing")
	if !errors.Is(err, store.ErrDocumentNotFound) || !domain.IsStore(err) {
		t.Fatalf("expected not-found StoreError, got %v", err)
	}
	if st, _ := s.Stats(context.Background()); st.Documents != 1 || st.Chunks != 1 {
		t.Fatalf("store changed by failed delete: %+v", st)
	}
}
