package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/domain"
	"rlg/internal/port"
)

// Weights are the fusion coefficients. They are validated at startup to
// sum to 1.0; the fuser trusts them.
type Weights struct {
	BM25       float64
	Dense      float64
	Structural float64
}

// Fuser runs the keyword and vector legs concurrently, merges by chunk
// identity, filters by document reliability and reranks by the weighted
// sum of the three signals. For a fixed index snapshot and fixed weights
// it is deterministic: identical inputs yield the identical ranked
// sequence.
type Fuser struct {
	store     port.IndexStore
	embedder  port.Embedder
	tokenizer *analyzer.Tokenizer
	weights   Weights
	overfetch int
}

// NewFuser creates a Fuser. overfetch is the factor applied to topK on
// each retrieval leg so that reliability filtering does not starve the
// merged set; values below 2 are raised to 2.
func NewFuser(store port.IndexStore, embedder port.Embedder, tokenizer *analyzer.Tokenizer, weights Weights, overfetch int) *Fuser {
	if overfetch < 2 {
		overfetch = 2
	}
	return &Fuser{
		store:     store,
		embedder:  embedder,
		tokenizer: tokenizer,
		weights:   weights,
		overfetch: overfetch,
	}
}

type subScores struct {
	bm25  float64
	dense float64
}

// Retrieve returns at most topK fused candidates for the question.
func (f *Fuser) Retrieve(ctx context.Context, question string, topK int, minReliability float64) ([]domain.RetrievalCandidate, error) {
	if topK <= 0 {
		return nil, nil
	}
	fetchK := topK * f.overfetch

	var keywordHits, vectorHits []port.ScoredChunk

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tokens := f.tokenizer.Tokenize(question)
		hits, err := f.store.SearchKeyword(tokens, fetchK)
		if err != nil {
			return fmt.Errorf("keyword search: %w", err)
		}
		keywordHits = hits
		return nil
	})
	g.Go(func() error {
		embeddings, err := f.embedder.Embed(gctx, []string{question})
		if err != nil {
			return fmt.Errorf("question embedding: %w", err)
		}
		if len(embeddings) == 0 {
			return fmt.Errorf("question embedding: empty result")
		}
		hits, err := f.store.SearchVector(embeddings[0], fetchK)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vectorHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		// A slow sub-index fails the query fast; retrieval is never
		// silently degraded to a single signal.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalTimeout, err)
		}
		return nil, err
	}

	// Merge by chunk identity. A missing sub-score defaults to zero and
	// is not penalized further. BM25 is normalized by the max raw score;
	// cosine similarity already lives in [0,1].
	merged := make(map[string]subScores)
	maxBM25 := 0.0
	for _, hit := range keywordHits {
		if hit.Score > maxBM25 {
			maxBM25 = hit.Score
		}
	}
	for _, hit := range keywordHits {
		sc := merged[hit.ChunkID]
		if maxBM25 > 0 {
			sc.bm25 = hit.Score / maxBM25
		}
		merged[hit.ChunkID] = sc
	}
	for _, hit := range vectorHits {
		sc := merged[hit.ChunkID]
		sc.dense = hit.Score
		merged[hit.ChunkID] = sc
	}
	if len(merged) == 0 {
		return nil, nil
	}

	hits := make([]port.ScoredChunk, 0, len(merged))
	for id := range merged {
		hits = append(hits, port.ScoredChunk{ChunkID: id})
	}
	chunks, docs, err := f.store.Resolve(hits)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}

	candidates := make([]domain.RetrievalCandidate, 0, len(chunks))
	for _, chunk := range chunks {
		doc := docs[chunk.DocID]
		if doc.Reliability < minReliability {
			continue
		}

		sc := merged[chunk.ID]
		structural := (chunk.StructuralWeight / domain.MaxStructuralWeight) * doc.Reliability
		fused := f.weights.BM25*sc.bm25 + f.weights.Dense*sc.dense + f.weights.Structural*structural

		candidates = append(candidates, domain.RetrievalCandidate{
			Chunk:           chunk,
			Document:        doc,
			BM25Score:       sc.bm25,
			DenseScore:      sc.dense,
			StructuralScore: structural,
			FusedScore:      fused,
		})
	}

	// Descending fused score; ties broken by position ascending (earlier
	// in the document wins), then chunk ID so the order is total.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		if candidates[i].Chunk.Position != candidates[j].Chunk.Position {
			return candidates[i].Chunk.Position < candidates[j].Chunk.Position
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
