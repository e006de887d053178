package usecase

import (
	"context"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/domain"
	"rlg/internal/port"
)

// Validator checks every sentence of a generated answer against the
// excerpts its citation markers point at. Claims are verified
// independently and in parallel once the full answer is split; one bad
// citation taints only its own claim.
type Validator struct {
	embedder  port.Embedder
	tokenizer *analyzer.Tokenizer
	lower     float64
	upper     float64
}

// ValidationReport is the outcome of validating one answer.
type ValidationReport struct {
	Verdicts       []domain.Verdict
	GroundingScore float64
	Claims         int
}

func NewValidator(embedder port.Embedder, tokenizer *analyzer.Tokenizer, lowerSimilarity, upperSimilarity float64) *Validator {
	return &Validator{
		embedder:  embedder,
		tokenizer: tokenizer,
		lower:     lowerSimilarity,
		upper:     upperSimilarity,
	}
}

// Validate splits the answer into claims and verifies each against the
// assembled context. extractive additionally requires claims to be
// verbatim substrings of their cited excerpts.
func (v *Validator) Validate(ctx context.Context, answer string, assembled *AssembledContext, extractive bool) (ValidationReport, error) {
	sentences := analyzer.SplitSentences(answer)
	claims := make([]domain.Claim, 0, len(sentences))
	for _, s := range sentences {
		clean, markers := analyzer.ExtractMarkers(s)
		if strings.TrimSpace(clean) == "" {
			continue
		}
		claims = append(claims, domain.Claim{Text: clean, Markers: markers})
	}

	report := ValidationReport{Claims: len(claims)}
	if len(claims) == 0 {
		return report, nil
	}

	verdicts := make([]domain.Verdict, len(claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, claim := range claims {
		i, claim := i, claim
		g.Go(func() error {
			verdict, err := v.verify(gctx, claim, assembled, extractive)
			if err != nil {
				return err
			}
			verdicts[i] = verdict
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ValidationReport{}, err
	}

	total := 0.0
	for _, verdict := range verdicts {
		total += verdict.Kind.Weight()
	}

	report.Verdicts = verdicts
	report.GroundingScore = total / float64(len(verdicts))
	return report, nil
}

// verify scores a single claim against the excerpts it cites.
func (v *Validator) verify(ctx context.Context, claim domain.Claim, assembled *AssembledContext, extractive bool) (domain.Verdict, error) {
	verdict := domain.Verdict{Claim: claim}

	if len(claim.Markers) == 0 {
		verdict.Kind = domain.VerdictUngrounded
		verdict.Reason = domain.ReasonNoCitation
		return verdict, nil
	}

	var excerpts []domain.Citation
	for _, m := range claim.Markers {
		c, ok := assembled.Lookup(m)
		if !ok {
			verdict.Kind = domain.VerdictUngrounded
			verdict.Reason = domain.ReasonInvalidCitation
			return verdict, nil
		}
		excerpts = append(excerpts, c)
	}

	if extractive {
		for _, c := range excerpts {
			if containsVerbatim(c.Excerpt, claim.Text) {
				verdict.Kind = domain.VerdictGrounded
				verdict.Confidence = 1.0
				verdict.Marker = c.Marker
				return verdict, nil
			}
		}
		verdict.Kind = domain.VerdictUngrounded
		verdict.Reason = domain.ReasonNotVerbatim
		return verdict, nil
	}

	// Lexical evidence first: the fraction of the claim's distinct terms
	// present in the excerpt. Only when that is not decisive does the
	// semantic leg pay for an embedding call.
	best := 0.0
	bestMarker := 0
	for _, c := range excerpts {
		score := v.tokenizer.Overlap(claim.Text, c.Excerpt)
		if score > best {
			best = score
			bestMarker = c.Marker
		}
	}

	if best < v.upper {
		semantic, marker, err := v.semanticBest(ctx, claim.Text, excerpts)
		if err != nil {
			return domain.Verdict{}, err
		}
		if semantic > best {
			best = semantic
			bestMarker = marker
		}
	}

	verdict.Confidence = best
	verdict.Marker = bestMarker
	switch {
	case best >= v.upper:
		verdict.Kind = domain.VerdictGrounded
	case best >= v.lower:
		verdict.Kind = domain.VerdictPartiallyGrounded
	default:
		verdict.Kind = domain.VerdictUngrounded
		verdict.Reason = domain.ReasonLowSimilarity
	}
	return verdict, nil
}

// semanticBest embeds the claim and its cited excerpts in one batch and
// returns the highest cosine similarity and the marker that produced it.
func (v *Validator) semanticBest(ctx context.Context, claimText string, excerpts []domain.Citation) (float64, int, error) {
	texts := make([]string, 0, len(excerpts)+1)
	texts = append(texts, claimText)
	for _, c := range excerpts {
		texts = append(texts, c.Excerpt)
	}

	vectors, err := v.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, 0, err
	}
	if len(vectors) != len(texts) {
		return 0, 0, nil
	}

	best := 0.0
	marker := 0
	for i, c := range excerpts {
		score := cosine(vectors[0], vectors[i+1])
		if score > best {
			best = score
			marker = c.Marker
		}
	}
	return best, marker, nil
}

// containsVerbatim reports whether needle appears in haystack after
// whitespace normalization, so line wrapping does not break an exact
// quote.
func containsVerbatim(haystack, needle string) bool {
	h := strings.ToLower(strings.Join(strings.Fields(haystack), " "))
	n := strings.ToLower(strings.Join(strings.Fields(needle), " "))
	n = strings.TrimRight(n, ".!?")
	if n == "" {
		return false
	}
	return strings.Contains(h, n)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
