// Package graph keeps documents and their chunks in Neo4j as
// (:Document)-[:HAS_CHUNK]->(:Chunk). Vectors live elsewhere.
package graph

import (
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/secondbrain/brain/engine/domain"
)

// Node labels and relationship type.
const (
	LabelDocument = "Document"
	LabelChunk    = "Chunk"
	RelHasChunk   = "HAS_CHUNK"
)

func documentToMap(d domain.Document) map[string]any {
	return map[string]any{
		"id":         d.ID,
		"title":      d.Title,
		"source":     d.Source,
		"created_at": d.CreatedAt,
	}
}

func documentFromRecord(rec *neo4j.Record) (domain.Document, error) {
	props, err := nodeProps(rec, "n")
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{
		ID:        strProp(props, "id"),
		Title:     strProp(props, "title"),
		Source:    strProp(props, "source"),
		CreatedAt: timeProp(props, "created_at"),
	}, nil
}

func chunkToMap(c domain.StoredChunk) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"document_id": c.DocumentID,
		"chunk_index": int64(c.Index),
		"content":     c.Content,
		"created_at":  c.CreatedAt,
	}
}

func chunkFromRecord(rec *neo4j.Record) (domain.StoredChunk, error) {
	props, err := nodeProps(rec, "n")
	if err != nil {
		return domain.StoredChunk{}, err
	}
	return domain.StoredChunk{
		ID:         strProp(props, "id"),
		DocumentID: strProp(props, "document_id"),
		Index:      int(intProp(props, "chunk_index")),
		Content:    strProp(props, "content"),
		CreatedAt:  timeProp(props, "created_at"),
	}, nil
}

// nodeProps returns the properties of the node bound to key. Plain maps
// are accepted as well.
func nodeProps(rec *neo4j.Record, key string) (map[string]any, error) {
	v, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("graph: record has no %q", key)
	}
	switch n := v.(type) {
	case dbtype.Node:
		return n.Props, nil
	case map[string]any:
		return n, nil
	default:
		return nil, fmt.Errorf("graph: %q is %T, not a node", key, v)
	}
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	if t, ok := props[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}
