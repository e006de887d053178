package store

import (
	"encoding/json"
	"math"
	"sort"

	"go.etcd.io/bbolt"

	"rlg/internal/domain"
	"rlg/internal/port"
)

// SearchKeyword runs BM25 over the inverted index. The whole scan happens
// inside one View transaction, so postings, chunk lengths and corpus stats
// all come from the same snapshot.
func (s *BoltStore) SearchKeyword(queryTokens []string, k int) ([]port.ScoredChunk, error) {
	if len(queryTokens) == 0 || k <= 0 {
		return nil, nil
	}

	var results []port.ScoredChunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats, err := readStats(tx)
		if err != nil {
			return err
		}
		if stats.TotalChunks == 0 {
			return nil
		}

		avgDl := float64(stats.TotalTokens) / float64(stats.TotalChunks)
		N := float64(stats.TotalChunks)

		termsBucket := tx.Bucket(bucketTerms)
		chunksBucket := tx.Bucket(bucketChunks)

		chunkScores := make(map[string]float64)
		chunkLengths := make(map[string]int)

		for _, term := range queryTokens {
			data := termsBucket.Get([]byte(term))
			if data == nil {
				continue
			}
			var postings []domain.Posting
			if err := json.Unmarshal(data, &postings); err != nil {
				continue
			}

			n := float64(len(postings))
			idf := math.Log((N-n+0.5)/(n+0.5) + 1)

			for _, posting := range postings {
				if _, exists := chunkLengths[posting.ChunkID]; !exists {
					cdata := chunksBucket.Get([]byte(posting.ChunkID))
					if cdata == nil {
						continue
					}
					var meta chunkMeta
					if err := json.Unmarshal(cdata, &meta); err != nil {
						continue
					}
					chunkLengths[posting.ChunkID] = len(meta.Tokens)
				}

				dl := float64(chunkLengths[posting.ChunkID])
				tf := float64(posting.TF)
				score := idf * (tf * (s.k1 + 1)) / (tf + s.k1*(1-s.b+s.b*dl/avgDl))
				chunkScores[posting.ChunkID] += score
			}
		}

		results = make([]port.ScoredChunk, 0, len(chunkScores))
		for id, score := range chunkScores {
			results = append(results, port.ScoredChunk{ChunkID: id, Score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortHits(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchVector returns the k nearest chunks by cosine similarity.
// Brute force over the in-memory cache, as the corpus sizes here allow.
func (s *BoltStore) SearchVector(query []float32, k int) ([]port.ScoredChunk, error) {
	if len(query) != s.dimension {
		return nil, domain.ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	results := make([]port.ScoredChunk, 0, len(s.vectors))
	for id, vec := range s.vectors {
		results = append(results, port.ScoredChunk{
			ChunkID: id,
			Score:   cosineSimilarity(query, vec),
		})
	}
	s.mu.RUnlock()

	sortHits(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Resolve maps sub-index hits to chunks and owning documents inside one
// View transaction. A document deleted or replaced since the hits were
// produced fails resolution for all of its chunks at once, so callers
// never see a partial chunk set from it.
func (s *BoltStore) Resolve(hits []port.ScoredChunk) ([]domain.Chunk, map[string]domain.Document, error) {
	chunks := make([]domain.Chunk, 0, len(hits))
	docs := make(map[string]domain.Document)

	err := s.db.View(func(tx *bbolt.Tx) error {
		docsBucket := tx.Bucket(bucketDocs)
		for _, hit := range hits {
			chunk, err := readChunk(tx, hit.ChunkID)
			if err != nil {
				continue // chunk removed since the search snapshot
			}

			if _, ok := docs[chunk.DocID]; !ok {
				data := docsBucket.Get([]byte(chunk.DocID))
				if data == nil {
					continue
				}
				doc, err := decodeDoc(chunk.DocID, data)
				if err != nil || doc.Status != domain.StatusIndexed {
					continue
				}
				docs[chunk.DocID] = doc
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return chunks, docs, nil
}

// sortHits orders by score descending with chunk ID as a deterministic
// tiebreak, so repeated searches over the same snapshot return identical
// sequences.
func sortHits(hits []port.ScoredChunk) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
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
