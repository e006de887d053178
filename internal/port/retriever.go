package port

import (
	"context"

	"rlg/internal/domain"
)

// Retriever fuses keyword, semantic and structural evidence into one
// ranked candidate set. For a fixed index state and fixed weights it is a
// pure function of its inputs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int, minReliability float64) ([]domain.RetrievalCandidate, error)
}
