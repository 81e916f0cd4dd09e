package semantic

// Payload keys stored with every point.
const (
	keyDocID      = "doc_id"
	keyChunkIndex = "chunk_index"
	keyContent    = "content"
)

// Hit is a single vector search hit.
type Hit struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
}

// VectorRecord is one chunk vector to store in Qdrant. ID must be a UUID.
type VectorRecord struct {
	ID         string
	DocID      string
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// Point is a stored vector read back by Sample.
type Point struct {
	Hit
	Embedding []float32
}
