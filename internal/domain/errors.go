package domain

import "errors"

var (
	// ErrUnsupportedFormat means no parser exists for the file type.
	// The document is marked failed and not retried automatically.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrParseFailure means the parser could not extract text.
	ErrParseFailure = errors.New("document parse failure")

	// ErrDimensionMismatch means an embedding does not match the active
	// vector index dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrRetrievalTimeout means a sub-index did not respond in time.
	// Queries fail fast rather than degrade to single-signal retrieval.
	ErrRetrievalTimeout = errors.New("retrieval timed out")

	// ErrGenerationUnavailable means the generation service could not be
	// reached within the bounded retry budget, or timed out.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrDocumentNotFound is returned by store lookups for unknown IDs.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChunkNotFound is returned by store lookups for unknown chunk IDs.
	ErrChunkNotFound = errors.New("chunk not found")
)
