package port

import "rlg/internal/domain"

// Chunker splits parsed blocks into ordered, indexable chunks.
// Positions are strictly increasing; the sequence is consumed fully into
// storage and is not restartable.
type Chunker interface {
	Chunk(doc domain.Document, blocks []domain.Block) ([]domain.Chunk, error)
}
