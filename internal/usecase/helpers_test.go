package usecase

import (
	"context"
	"hash/fnv"
	"strings"

	"rlg/internal/domain"
)

// hashEmbedder is a deterministic bag-of-words embedder: texts sharing
// words get high cosine similarity, disjoint texts get none. Good enough
// to exercise the semantic verification path without a real model.
type hashEmbedder struct{}

const hashDim = 32

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, hashDim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?[]()")
			if word == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[h.Sum32()%hashDim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (hashEmbedder) Dimension() int    { return hashDim }
func (hashEmbedder) ModelName() string { return "hash-test" }

// stubRetriever returns a fixed candidate list.
type stubRetriever struct {
	candidates []domain.RetrievalCandidate
	err        error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ int, _ float64) ([]domain.RetrievalCandidate, error) {
	return s.candidates, s.err
}

// stubGenerator replays a canned answer, in fragments when streaming.
type stubGenerator struct {
	text string
}

func (s *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	return s.text, nil
}

func (s *stubGenerator) Stream(_ context.Context, _ string, fn func(string) error) error {
	runes := []rune(s.text)
	for start := 0; start < len(runes); start += 7 {
		end := start + 7
		if end > len(runes) {
			end = len(runes)
		}
		if err := fn(string(runes[start:end])); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubGenerator) ModelName() string { return "stub" }

func candidate(chunkID, docID, docName, text string, position int, fused float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		Chunk: domain.Chunk{
			ID:               chunkID,
			DocID:            docID,
			Text:             text,
			Kind:             domain.KindParagraph,
			Position:         position,
			StructuralWeight: 1.0,
		},
		Document: domain.Document{
			ID:          docID,
			Name:        docName,
			Reliability: 1.0,
			Status:      domain.StatusIndexed,
		},
		FusedScore: fused,
	}
}
