package ingest

import "github.com/secondbrain/brain/engine/domain"

// Request is one document to ingest.
type Request struct {
	Text   string `json:"text"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
}

// Result reports a successful ingest.
type Result struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunks_inserted"`
}

// CreatedDoc is a request whose document row exists.
type CreatedDoc struct {
	Request
	Doc domain.Document
}

// ChunkedDoc is a created document split into chunks.
type ChunkedDoc struct {
	CreatedDoc
	Chunks []domain.Chunk
}

// EmbeddedDoc is a chunked document with one vector per chunk.
type EmbeddedDoc struct {
	ChunkedDoc
	Embeddings [][]float32
}
