package port

import "context"

// Generator is the thin adapter boundary to the external generation
// service. Unreachable or timed-out services surface as
// domain.ErrGenerationUnavailable after a bounded retry with backoff.
type Generator interface {
	// Generate returns the full answer for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Stream invokes fn for each answer fragment as it arrives.
	// Fragments are raw deltas, not sentence-aligned.
	Stream(ctx context.Context, prompt string, fn func(fragment string) error) error

	// ModelName returns the name of the generation model.
	ModelName() string
}
