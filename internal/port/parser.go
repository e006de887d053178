package port

import (
	"context"

	"rlg/internal/domain"
)

// Parser turns raw document bytes into structurally annotated blocks.
// Format internals (PDF, DOCX extraction) live behind this boundary.
type Parser interface {
	// Parse extracts blocks from the document. Returns
	// domain.ErrUnsupportedFormat for unknown file types and
	// domain.ErrParseFailure when text cannot be extracted.
	Parse(ctx context.Context, data []byte, fileType string) ([]domain.Block, error)

	// Supports reports whether the parser handles the given file type.
	Supports(fileType string) bool
}
