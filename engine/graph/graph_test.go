package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/engine/store"
	"github.com/secondbrain/brain/pkg/repo"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}
func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return nil }

type mockSession struct {
	results   []*mockResult
	failOn    string
	cyphers   []string
	params    []map[string]any
	committed bool
	closed    int
}

func (m *mockSession) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.failOn != "" && strings.Contains(cypher, m.failOn) {
		return nil, errors.New("neo4j unavailable")
	}
	if len(m.results) == 0 {
		return &mockResult{}, nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

func (m *mockSession) ExecuteWrite(_ context.Context, work func(repo.Runner) error) error {
	err := work(m)
	m.committed = err == nil
	return err
}

func (m *mockSession) Close(context.Context) error { m.closed++; return nil }

func newStore(s *mockSession) *GraphStore {
	g := New(func(context.Context) repo.Session { return s })
	g.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return g
}

func record(key string, v any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{key}, Values: []any{v}}
}

func TestCreateDocument(t *testing.T) {
	created := dbtype.Node{Props: map[string]any{"id": "d1", "title": "Axolotls", "source": "wiki"}}
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{record("n", created)}}}}
	g := newStore(s)

	doc, err := g.CreateDocument(context.Background(), "Axolotls", "wiki")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "d1" || doc.Title != "Axolotls" {
		t.Errorf("unexpected document %+v", doc)
	}
	props := s.params[0]["props"].(map[string]any)
	if props["id"] == "" || !props["created_at"].(time.Time).Equal(g.now()) {
		t.Errorf("unexpected props %v", props)
	}
	if !strings.Contains(s.cyphers[0], "CREATE (n:Document") {
		t.Errorf("unexpected cypher %q", s.cyphers[0])
	}
}

func TestSaveChunks(t *testing.T) {
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{record("id", "d1")}}}}
	g := newStore(s)
	chunks := []domain.StoredChunk{
		{ID: "c0", DocumentID: "d1", Index: 0, Content: "a"},
		{ID: "c1", DocumentID: "d1", Index: 1, Content: "b"},
	}
	if err := g.SaveChunks(context.Background(), "d1", chunks); err != nil {
		t.Fatal(err)
	}
	if !s.committed {
		t.Fatal("expected commit")
	}
	if len(s.cyphers) != 2 || !strings.Contains(s.cyphers[1], "UNWIND $chunks") {
		t.Fatalf("unexpected cyphers %q", s.cyphers)
	}
	rows := s.params[1]["chunks"].([]map[string]any)
	if len(rows) != 2 || rows[1]["chunk_index"] != int64(1) {
		t.Fatalf("unexpected rows %v", rows)
	}
	if s.closed != 1 {
		t.Errorf("expected session closed once, got %d", s.closed)
	}
}

func TestSaveChunksMissingDocument(t *testing.T) {
	s := &mockSession{}
	g := newStore(s)
	err := g.SaveChunks(context.Background(), "nope", []domain.StoredChunk{{ID: "c0"}})
	if !errors.Is(err, store.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if s.committed {
		t.Fatal("transaction must not commit")
	}
}

func TestSaveChunksWriteFailureRollsBack(t *testing.T) {
	s := &mockSession{
		results: []*mockResult{{records: []*neo4j.Record{record("id", "d1")}}},
		failOn:  "UNWIND",
	}
	g := newStore(s)
	if err := g.SaveChunks(context.Background(), "d1", []domain.StoredChunk{{ID: "c0"}}); err == nil {
		t.Fatal("expected error")
	}
	if s.committed {
		t.Fatal("transaction must not commit")
	}
}

func TestSaveChunksEmpty(t *testing.T) {
	s := &mockSession{}
	if err := newStore(s).SaveChunks(context.Background(), "d1", nil); err != nil {
		t.Fatal(err)
	}
	if len(s.cyphers) != 0 {
		t.Fatal("empty batch should not touch neo4j")
	}
}

func TestDeleteDocument(t *testing.T) {
	found := dbtype.Node{Props: map[string]any{"id": "d1", "title": "Axolotls"}}
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{record("n", found)}}}}
	if err := newStore(s).DeleteDocument(context.Background(), "d1"); err != nil {
		t.Fatal(err)
	}
	if len(s.cyphers) != 2 || !s.committed {
		t.Fatalf("expected lookup then committed delete, got %q", s.cyphers)
	}
	if !strings.Contains(s.cyphers[1], "-[:HAS_CHUNK]->(c:Chunk)") || !strings.Contains(s.cyphers[1], "DETACH DELETE c, d") || s.params[1]["id"] != "d1" {
		t.Fatalf("unexpected cypher %q %v", s.cyphers[1], s.params[1])
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	s := &mockSession{}
	err := newStore(s).DeleteDocument(context.Background(), "nope")
	if !errors.Is(err, store.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if len(s.cyphers) != 1 {
		t.Fatalf("expected no delete statement, got %q", s.cyphers)
	}
}

func TestRecentChunks(t *testing.T) {
	now := time.Now()
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{
		record("n", dbtype.Node{Props: map[string]any{"id": "c9", "document_id": "d1", "chunk_index": int64(4), "content": "x", "created_at": now}}),
	}}}}
	got, err := newStore(s).RecentChunks(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Index != 4 || !got[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected chunks %+v", got)
	}
	if !strings.Contains(s.cyphers[0], "ORDER BY n.created_at DESC") {
		t.Errorf("unexpected cypher %q", s.cyphers[0])
	}
}

func TestNodeCounts(t *testing.T) {
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{
		{Keys: []string{"type", "count"}, Values: []any{"Document", int64(2)}},
		{Keys: []string{"type", "count"}, Values: []any{"Chunk", int64(11)}},
	}}}}
	counts, err := newStore(s).NodeCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[LabelDocument] != 2 || counts[LabelChunk] != 11 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestNodeCountsEmptyGraph(t *testing.T) {
	counts, err := newStore(&mockSession{}).NodeCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[LabelDocument] != 0 || counts[LabelChunk] != 0 || len(counts) != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestEnsureSchema(t *testing.T) {
	s := &mockSession{}
	if err := newStore(s).EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(s.cyphers) != len(schema) {
		t.Fatalf("expected %d statements, got %d", len(schema), len(s.cyphers))
	}
	s = &mockSession{failOn: "CONSTRAINT"}
	if err := newStore(s).EnsureSchema(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNodePropsRejectsScalars(t *testing.T) {
	if _, err := nodeProps(record("n", 42), "n"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := nodeProps(record("m", map[string]any{}), "n"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
