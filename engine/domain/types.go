// Package domain defines the core data model and error kinds shared by the
// ingestion and retrieval pipeline. It acts as the validation gate at the
// pipeline entry points.
package domain

import "time"

// Document is the unit of ingestion. It is immutable once created and owns
// its chunks; deleting a document deletes its chunks.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one retrieval unit of a document. Index values within a
// document are contiguous and start at 0.
type Chunk struct {
	Index     int       `json:"chunk_index"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// StoredChunk is a persisted chunk as returned by store inspection.
type StoredChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchResult is a single similarity hit. Higher Similarity means more
// relevant; result lists are ordered by descending Similarity.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Stats summarises store contents for operational checks. OrphanedVectors
// counts indexed vectors with no stored chunk; only split backends report
// it.
type Stats struct {
	Documents              int64 `json:"documents"`
	Chunks                 int64 `json:"chunks"`
	ChunksMissingEmbedding int64 `json:"chunks_missing_embedding"`
	OrphanedVectors        int64 `json:"orphaned_vectors,omitempty"`
}

// WithEmbedding returns the number of chunks that carry an embedding.
func (s Stats) WithEmbedding() int64 {
	return s.Chunks - s.ChunksMissingEmbedding
}
