package usecase

import (
	"fmt"
	"sort"
	"strings"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/domain"
	"rlg/internal/port"
)

// Assembler turns ranked retrieval candidates into a citation-addressable
// context block and the final generation prompt. Markers are 1-based,
// assigned in rank order, and never reused within a query; the validator
// resolves a cited marker back to its excerpt through the same
// AssembledContext.
type Assembler struct {
	store       port.IndexStore
	tokenizer   *analyzer.Tokenizer
	tokenBudget int
	window      int
}

// AssembledContext is the marker-addressed view of the evidence shown to
// the generator for one query.
type AssembledContext struct {
	Citations []domain.Citation
	Prompt    string
	byMarker  map[int]domain.Citation
}

// Lookup resolves a marker to its citation. The second result is false
// for markers that were never assigned in this query.
func (a *AssembledContext) Lookup(marker int) (domain.Citation, bool) {
	c, ok := a.byMarker[marker]
	return c, ok
}

func NewAssembler(store port.IndexStore, tokenizer *analyzer.Tokenizer, tokenBudget, window int) *Assembler {
	if tokenBudget <= 0 {
		tokenBudget = 4000
	}
	return &Assembler{
		store:       store,
		tokenizer:   tokenizer,
		tokenBudget: tokenBudget,
		window:      window,
	}
}

// Assemble builds the context for a question from ranked candidates.
// Near-duplicate excerpts are dropped, the token budget is enforced by
// truncating the lowest-ranked entries, and each surviving excerpt gets
// the next marker in rank order.
func (a *Assembler) Assemble(question string, candidates []domain.RetrievalCandidate, extractive bool) (*AssembledContext, error) {
	expanded := a.expand(candidates)

	seen := make(map[string]bool)
	budget := a.tokenBudget
	var citations []domain.Citation

	for _, cand := range expanded {
		key := dedupKey(cand.Chunk.Text)
		if seen[key] {
			continue
		}

		cost := a.tokenizer.CountTokens(cand.Chunk.Text)
		if cost > budget {
			if len(citations) == 0 {
				// Never emit an empty context when evidence exists; a
				// single oversized excerpt is truncated instead.
				text := a.truncateToBudget(cand.Chunk.Text, budget)
				citations = append(citations, domain.Citation{
					Marker:       1,
					ChunkID:      cand.Chunk.ID,
					DocumentName: cand.Document.Name,
					Page:         cand.Chunk.Page,
					Section:      cand.Chunk.Section,
					Excerpt:      text,
				})
				budget = 0
			}
			break
		}

		seen[key] = true
		budget -= cost
		citations = append(citations, domain.Citation{
			Marker:       len(citations) + 1,
			ChunkID:      cand.Chunk.ID,
			DocumentName: cand.Document.Name,
			Page:         cand.Chunk.Page,
			Section:      cand.Chunk.Section,
			Excerpt:      cand.Chunk.Text,
		})
	}

	if len(citations) == 0 {
		return nil, nil
	}

	byMarker := make(map[int]domain.Citation, len(citations))
	for _, c := range citations {
		byMarker[c.Marker] = c
	}

	return &AssembledContext{
		Citations: citations,
		Prompt:    buildPrompt(question, citations, extractive),
		byMarker:  byMarker,
	}, nil
}

// expand widens each candidate with its positional neighbors when the
// window is on. Neighbors inherit the parent's rank so the budget still
// favors the best-ranked evidence first.
func (a *Assembler) expand(candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	if a.window <= 0 {
		return candidates
	}

	out := make([]domain.RetrievalCandidate, 0, len(candidates)*(2*a.window+1))
	included := make(map[string]bool)
	for _, cand := range candidates {
		if !included[cand.Chunk.ID] {
			included[cand.Chunk.ID] = true
			out = append(out, cand)
		}

		siblings, err := a.store.GetChunksByDoc(cand.Chunk.DocID)
		if err != nil {
			continue
		}
		sort.Slice(siblings, func(i, j int) bool { return siblings[i].Position < siblings[j].Position })
		for _, sib := range siblings {
			d := sib.Position - cand.Chunk.Position
			if d == 0 || d < -a.window || d > a.window || included[sib.ID] {
				continue
			}
			included[sib.ID] = true
			out = append(out, domain.RetrievalCandidate{
				Chunk:      sib,
				Document:   cand.Document,
				FusedScore: cand.FusedScore / 2,
			})
		}
	}
	return out
}

func (a *Assembler) truncateToBudget(text string, budget int) string {
	if budget <= 0 {
		budget = 1
	}
	words := strings.Fields(text)
	// CountTokens estimates ~1.3 tokens per word.
	keep := int(float64(budget) / 1.3)
	if keep < 1 {
		keep = 1
	}
	if keep >= len(words) {
		return text
	}
	return strings.Join(words[:keep], " ")
}

// dedupKey normalizes an excerpt for near-duplicate detection: lowercase,
// collapsed whitespace, first 200 bytes.
func dedupKey(text string) string {
	s := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func buildPrompt(question string, citations []domain.Citation, extractive bool) string {
	var b strings.Builder

	b.WriteString("You are answering a question using ONLY the numbered excerpts below.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Every sentence of your answer MUST end with the citation marker(s) of the excerpt(s) supporting it, like [1] or [2][3].\n")
	b.WriteString("- Use only information present in the excerpts. Do not use outside knowledge.\n")
	b.WriteString("- If the excerpts do not contain the answer, say so plainly.\n")
	if extractive {
		b.WriteString("- Quote the excerpts verbatim. Do not paraphrase, summarize or reword; copy the exact supporting text.\n")
	}
	b.WriteString("\nExcerpts:\n")
	for _, c := range citations {
		fmt.Fprintf(&b, "[%d] (%s", c.Marker, c.DocumentName)
		if c.Page > 0 {
			fmt.Fprintf(&b, ", p.%d", c.Page)
		}
		if c.Section != "" {
			fmt.Fprintf(&b, ", %s", c.Section)
		}
		b.WriteString(")\n")
		b.WriteString(c.Excerpt)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", question)
	return b.String()
}
