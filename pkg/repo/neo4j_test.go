package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockSession struct {
	results  []*mockResult
	err      error
	cyphers  []string
	params   []map[string]any
	closed   int
	inTx     bool
	txCommit bool
}

func (m *mockSession) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &mockResult{}, nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

func (m *mockSession) ExecuteWrite(ctx context.Context, work func(Runner) error) error {
	m.inTx = true
	err := work(m)
	m.txCommit = err == nil
	return err
}

func (m *mockSession) Close(context.Context) error { m.closed++; return nil }

type doc struct {
	ID    string
	Title string
}

func docRecord(id, title string) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{map[string]any{"id": id, "title": title}}}
}

func newDocRepo(s *mockSession) *Neo4jRepo[doc, string] {
	return NewNeo4jRepo[doc, string](
		func(context.Context) Session { return s },
		"Document",
		func(d doc) map[string]any { return map[string]any{"id": d.ID, "title": d.Title} },
		func(rec *neo4j.Record) (doc, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return doc{}, errors.New("bad record")
			}
			return doc{ID: m["id"].(string), Title: m["title"].(string)}, nil
		},
	)
}

func TestNewNeo4jRepoDefaults(t *testing.T) {
	r := newDocRepo(&mockSession{})
	if r.idKey != "id" || r.label != "Document" {
		t.Fatalf("unexpected defaults: %s %s", r.label, r.idKey)
	}
}

func TestNewNeo4jRepoRejectsBadLabel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an injected label")
		}
	}()
	NewNeo4jRepo[doc, string](nil, "Doc) DETACH DELETE (x", nil, nil)
}

func TestGet(t *testing.T) {
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{docRecord("1", "Notes")}}}}
	d, err := newDocRepo(s).Get(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "1" || d.Title != "Notes" {
		t.Fatalf("got %+v", d)
	}
	if s.closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newDocRepo(&mockSession{}).Get(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResultError(t *testing.T) {
	want := errors.New("stream broken")
	s := &mockSession{results: []*mockResult{{err: want}}}
	if _, err := newDocRepo(s).Get(context.Background(), "x"); !errors.Is(err, want) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestRunErrorsPropagate(t *testing.T) {
	down := errors.New("db down")
	r := newDocRepo(&mockSession{err: down})
	ctx := context.Background()
	if _, err := r.Get(ctx, "x"); !errors.Is(err, down) {
		t.Errorf("Get: %v", err)
	}
	if _, err := r.List(ctx, ListOpts{}); !errors.Is(err, down) {
		t.Errorf("List: %v", err)
	}
	if _, err := r.Create(ctx, doc{ID: "1"}); !errors.Is(err, down) {
		t.Errorf("Create: %v", err)
	}
	if err := r.Delete(ctx, "1"); !errors.Is(err, down) {
		t.Errorf("Delete: %v", err)
	}
	if _, err := r.Count(ctx); !errors.Is(err, down) {
		t.Errorf("Count: %v", err)
	}
}

func TestListDefaultsAndOrdering(t *testing.T) {
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{docRecord("2", "b"), docRecord("1", "a")}}}}
	items, err := newDocRepo(s).List(context.Background(), ListOpts{OrderBy: "created_at"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "2" {
		t.Fatalf("got %+v", items)
	}
	if s.params[0]["limit"] != 100 {
		t.Fatalf("expected default limit 100, got %v", s.params[0]["limit"])
	}
	want := "MATCH (n:Document) RETURN n ORDER BY n.created_at DESC SKIP $offset LIMIT $limit"
	if s.cyphers[0] != want {
		t.Fatalf("got %q", s.cyphers[0])
	}
}

func TestListRejectsBadOrderProperty(t *testing.T) {
	if _, err := newDocRepo(&mockSession{}).List(context.Background(), ListOpts{OrderBy: "x; DROP"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateNoNode(t *testing.T) {
	if _, err := newDocRepo(&mockSession{}).Create(context.Background(), doc{ID: "1"}); err == nil {
		t.Fatal("expected error when create returns nothing")
	}
}

func TestCount(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"c"}, Values: []any{int64(7)}}
	s := &mockSession{results: []*mockResult{{records: []*neo4j.Record{rec}}}}
	n, err := newDocRepo(s).Count(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestCypherGeneration(t *testing.T) {
	s := &mockSession{}
	r := newDocRepo(s)
	ctx := context.Background()
	_, _ = r.Get(ctx, "ABC")
	_, _ = r.List(ctx, ListOpts{Limit: 50})
	_, _ = r.Create(ctx, doc{ID: "ABC"})
	_ = r.Delete(ctx, "ABC")
	_, _ = r.Count(ctx)

	expected := []string{
		"MATCH (n:Document {id: $id}) RETURN n",
		"MATCH (n:Document) RETURN n SKIP $offset LIMIT $limit",
		"CREATE (n:Document $props) RETURN n",
		"MATCH (n:Document {id: $id}) DETACH DELETE n",
		"MATCH (n:Document) RETURN count(n) AS c",
	}
	if len(s.cyphers) != len(expected) {
		t.Fatalf("got %d cyphers, want %d", len(s.cyphers), len(expected))
	}
	for i, want := range expected {
		if s.cyphers[i] != want {
			t.Errorf("[%d] got %q, want %q", i, s.cyphers[i], want)
		}
	}
}

type fakeDriver struct {
	neo4j.DriverWithContext
	cfg neo4j.SessionConfig
}

func (d *fakeDriver) NewSession(_ context.Context, cfg neo4j.SessionConfig) neo4j.SessionWithContext {
	d.cfg = cfg
	return nil
}

func TestDriverSessionsUsesDatabase(t *testing.T) {
	d := &fakeDriver{}
	sess := DriverSessions(d, "brain")(context.Background())
	if _, ok := sess.(*driverSession); !ok {
		t.Fatalf("unexpected session type %T", sess)
	}
	if d.cfg.DatabaseName != "brain" {
		t.Fatalf("expected database brain, got %q", d.cfg.DatabaseName)
	}
}
