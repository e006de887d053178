package port

import "rlg/internal/domain"

// ScoredChunk is a raw sub-index hit before fusion.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}

// IndexStore is the dual keyword+vector index over chunks. Writes for a
// single document are atomic across both sub-indices: a reader never
// observes a document indexed in one structure but not the other.
type IndexStore interface {
	// ApplyDocument stores the document and replaces its full chunk set,
	// postings and vectors in a single transaction. Re-ingestion with the
	// same document ID swaps the old chunk set atomically.
	ApplyDocument(doc domain.Document, chunks []domain.Chunk) error

	// RemoveDocument deletes the document and everything derived from it
	// in a single transaction.
	RemoveDocument(docID string) error

	// PutDocument writes document metadata only (status transitions).
	PutDocument(doc domain.Document) error

	GetDocument(id string) (domain.Document, error)
	ListDocuments() ([]domain.Document, error)
	FindByHash(hash string) (domain.Document, bool, error)

	GetChunk(id string) (domain.Chunk, error)
	GetChunksByDoc(docID string) ([]domain.Chunk, error)

	// SearchKeyword runs BM25 over the inverted index inside one read
	// snapshot and returns up to k hits with raw bm25 scores.
	SearchKeyword(queryTokens []string, k int) ([]ScoredChunk, error)

	// SearchVector returns up to k cosine-similarity hits for the query
	// embedding.
	SearchVector(query []float32, k int) ([]ScoredChunk, error)

	// Resolve maps sub-index hits to chunks and owning documents inside
	// one read snapshot. Hits whose document no longer exists are dropped
	// wholesale, so a deleted document never contributes a partial set.
	Resolve(hits []ScoredChunk) ([]domain.Chunk, map[string]domain.Document, error)

	Stats() (domain.Stats, error)

	PutQueryRecord(rec domain.QueryRecord) error
	ListQueryRecords() ([]domain.QueryRecord, error)

	Close() error
}
