//go:build integration

package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/secondbrain/brain/engine/domain"
	"github.com/secondbrain/brain/pkg/repo"
)

func testStore(t *testing.T) *GraphStore {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) WHERE n:Document OR n:Chunk DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return New(repo.DriverSessions(driver, ""))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_DocumentLifecycle(t *testing.T) {
	g := testStore(t)
	ctx := context.Background()
	if err := g.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	doc, err := g.CreateDocument(ctx, "Axolotls", "test")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	now := time.Now().UTC()
	chunks := []domain.StoredChunk{
		{ID: "11111111-1111-1111-1111-111111111111", DocumentID: doc.ID, Index: 0, Content: "first", CreatedAt: now},
		{ID: "22222222-2222-2222-2222-222222222222", DocumentID: doc.ID, Index: 1, Content: "second", CreatedAt: now},
	}
	if err := g.SaveChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	counts, err := g.NodeCounts(ctx)
	if err != nil || counts[LabelChunk] != 2 {
		t.Fatalf("NodeCounts = %v, %v", counts, err)
	}
	if err := g.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	counts, _ = g.NodeCounts(ctx)
	if counts[LabelDocument] != 0 || counts[LabelChunk] != 0 {
		t.Fatalf("expected empty graph, got %v", counts)
	}
}
