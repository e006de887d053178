package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"rlg/internal/domain"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketBlobs     = []byte("blobs")
	bucketTerms     = []byte("terms")
	bucketVectors   = []byte("vectors")
	bucketDocChunks = []byte("doc_chunks")
	bucketStats     = []byte("stats")
	bucketQueries   = []byte("queries")
	keyStats        = []byte("corpus_stats")
)

// BoltStore is the dual keyword+vector index over chunks, backed by a
// single BoltDB file. Both sub-indices are written inside one Update
// transaction per document, so a reader never observes a document present
// in one structure but not the other. View transactions give queries a
// snapshot-consistent read of the keyword index; the vector side searches
// an in-memory cache that is mutated only after a successful commit.
type BoltStore struct {
	db        *bbolt.DB
	dimension int
	k1        float64
	b         float64

	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewBoltStore opens (or creates) the store at path. dimension is the
// active vector index dimensionality; every stored embedding must match it.
func NewBoltStore(path string, dimension int, k1, b float64) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketTerms, bucketVectors, bucketDocChunks, bucketStats, bucketQueries}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:        db,
		dimension: dimension,
		k1:        k1,
		b:         b,
		vectors:   make(map[string][]float32),
	}
	if err := s.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return s, nil
}

func (s *BoltStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var vec []float32
			if err := json.Unmarshal(v, &vec); err != nil {
				return nil // skip corrupted entries
			}
			s.vectors[string(k)] = vec
			return nil
		})
	})
}

type docMeta struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	FileType    string  `json:"file_type"`
	Reliability float64 `json:"reliability"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	FileHash    string  `json:"file_hash,omitempty"`
	PageCount   int     `json:"page_count,omitempty"`
	ChunkCount  int     `json:"chunk_count"`
	CreatedAt   int64   `json:"created_at"`
	IndexedAt   int64   `json:"indexed_at,omitempty"`
}

type chunkMeta struct {
	DocID            string   `json:"doc_id"`
	Kind             string   `json:"kind"`
	Position         int      `json:"position"`
	Page             int      `json:"page,omitempty"`
	Section          string   `json:"section,omitempty"`
	StructuralWeight float64  `json:"structural_weight"`
	Tokens           []string `json:"tokens"`
}

// corpusStats is the persisted form; TotalTokens lets AvgChunkLen stay
// exact under incremental updates.
type corpusStats struct {
	TotalDocs   int `json:"total_docs"`
	TotalChunks int `json:"total_chunks"`
	TotalTokens int `json:"total_tokens"`
}

func (cs corpusStats) toDomain() domain.Stats {
	avg := 0.0
	if cs.TotalChunks > 0 {
		avg = float64(cs.TotalTokens) / float64(cs.TotalChunks)
	}
	return domain.Stats{
		TotalDocs:   cs.TotalDocs,
		TotalChunks: cs.TotalChunks,
		AvgChunkLen: avg,
	}
}

func encodeDoc(doc domain.Document) ([]byte, error) {
	meta := docMeta{
		Name:        doc.Name,
		Path:        doc.Path,
		FileType:    doc.FileType,
		Reliability: doc.Reliability,
		Status:      string(doc.Status),
		Error:       doc.Error,
		FileHash:    doc.FileHash,
		PageCount:   doc.PageCount,
		ChunkCount:  doc.ChunkCount,
		CreatedAt:   doc.CreatedAt.Unix(),
	}
	if !doc.IndexedAt.IsZero() {
		meta.IndexedAt = doc.IndexedAt.Unix()
	}
	return json.Marshal(meta)
}

func decodeDoc(id string, data []byte) (domain.Document, error) {
	var meta docMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{
		ID:          id,
		Name:        meta.Name,
		Path:        meta.Path,
		FileType:    meta.FileType,
		Reliability: meta.Reliability,
		Status:      domain.DocumentStatus(meta.Status),
		Error:       meta.Error,
		FileHash:    meta.FileHash,
		PageCount:   meta.PageCount,
		ChunkCount:  meta.ChunkCount,
		CreatedAt:   time.Unix(meta.CreatedAt, 0),
	}
	if meta.IndexedAt != 0 {
		doc.IndexedAt = time.Unix(meta.IndexedAt, 0)
	}
	return doc, nil
}

// ApplyDocument stores the document and replaces its full chunk set,
// postings and vectors in a single transaction. This is the commit
// boundary that keeps the two sub-indices in step: either both see the new
// chunk set, or neither does.
func (s *BoltStore) ApplyDocument(doc domain.Document, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d, index expects %d",
				domain.ErrDimensionMismatch, c.ID, len(c.Embedding), s.dimension)
		}
	}

	var removedVecs []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		stats, err := readStats(tx)
		if err != nil {
			return err
		}

		removed, removedTokens, err := purgeDocChunks(tx, doc.ID)
		if err != nil {
			return err
		}
		removedVecs = removed
		if len(removed) > 0 {
			stats.TotalDocs--
			stats.TotalChunks -= len(removed)
			stats.TotalTokens -= removedTokens
		}

		data, err := encodeDoc(doc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}

		chunksBucket := tx.Bucket(bucketChunks)
		blobsBucket := tx.Bucket(bucketBlobs)
		vectorsBucket := tx.Bucket(bucketVectors)
		termsBucket := tx.Bucket(bucketTerms)

		chunkIDs := make([]string, 0, len(chunks))
		newPostings := make(map[string][]domain.Posting)
		addedTokens := 0

		for _, chunk := range chunks {
			meta := chunkMeta{
				DocID:            chunk.DocID,
				Kind:             string(chunk.Kind),
				Position:         chunk.Position,
				Page:             chunk.Page,
				Section:          chunk.Section,
				StructuralWeight: chunk.StructuralWeight,
				Tokens:           chunk.Tokens,
			}
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if err := chunksBucket.Put([]byte(chunk.ID), data); err != nil {
				return err
			}
			if err := blobsBucket.Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
				return err
			}

			vecData, err := json.Marshal(chunk.Embedding)
			if err != nil {
				return err
			}
			if err := vectorsBucket.Put([]byte(chunk.ID), vecData); err != nil {
				return err
			}

			tf := make(map[string]int)
			for _, token := range chunk.Tokens {
				tf[token]++
			}
			for term, count := range tf {
				newPostings[term] = append(newPostings[term], domain.Posting{ChunkID: chunk.ID, TF: count})
			}

			chunkIDs = append(chunkIDs, chunk.ID)
			addedTokens += len(chunk.Tokens)
		}

		for term, postings := range newPostings {
			var existing []domain.Posting
			if data := termsBucket.Get([]byte(term)); data != nil {
				if err := json.Unmarshal(data, &existing); err != nil {
					return fmt.Errorf("decode postings for %q: %w", term, err)
				}
			}
			existing = append(existing, postings...)
			data, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			if err := termsBucket.Put([]byte(term), data); err != nil {
				return err
			}
		}

		idsData, err := json.Marshal(chunkIDs)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocChunks).Put([]byte(doc.ID), idsData); err != nil {
			return err
		}

		if len(chunks) > 0 {
			stats.TotalDocs++
			stats.TotalChunks += len(chunks)
			stats.TotalTokens += addedTokens
		}
		return writeStats(tx, stats)
	})
	if err != nil {
		return err
	}

	// Commit succeeded; now it is safe to swap the vector cache.
	s.mu.Lock()
	for _, id := range removedVecs {
		delete(s.vectors, id)
	}
	for _, chunk := range chunks {
		s.vectors[chunk.ID] = chunk.Embedding
	}
	s.mu.Unlock()
	return nil
}

// RemoveDocument deletes the document and everything derived from it in a
// single transaction.
func (s *BoltStore) RemoveDocument(docID string) error {
	var removedVecs []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		stats, err := readStats(tx)
		if err != nil {
			return err
		}

		removed, removedTokens, err := purgeDocChunks(tx, docID)
		if err != nil {
			return err
		}
		removedVecs = removed
		if len(removed) > 0 {
			stats.TotalDocs--
			stats.TotalChunks -= len(removed)
			stats.TotalTokens -= removedTokens
		}

		if err := tx.Bucket(bucketDocs).Delete([]byte(docID)); err != nil {
			return err
		}
		return writeStats(tx, stats)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, id := range removedVecs {
		delete(s.vectors, id)
	}
	s.mu.Unlock()
	return nil
}

// purgeDocChunks removes a document's chunks, blobs, vectors and postings
// within the caller's transaction. Returns the removed chunk IDs and their
// total token count.
func purgeDocChunks(tx *bbolt.Tx, docID string) ([]string, int, error) {
	docChunks := tx.Bucket(bucketDocChunks)
	data := docChunks.Get([]byte(docID))
	if data == nil {
		return nil, 0, nil
	}
	var chunkIDs []string
	if err := json.Unmarshal(data, &chunkIDs); err != nil {
		return nil, 0, err
	}

	chunksBucket := tx.Bucket(bucketChunks)
	blobsBucket := tx.Bucket(bucketBlobs)
	vectorsBucket := tx.Bucket(bucketVectors)
	termsBucket := tx.Bucket(bucketTerms)

	removedSet := make(map[string]struct{}, len(chunkIDs))
	tokenCount := 0
	terms := make(map[string]struct{})

	for _, id := range chunkIDs {
		removedSet[id] = struct{}{}
		if data := chunksBucket.Get([]byte(id)); data != nil {
			var meta chunkMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, 0, fmt.Errorf("decode chunk %s: %w", id, err)
			}
			tokenCount += len(meta.Tokens)
			for _, tok := range meta.Tokens {
				terms[tok] = struct{}{}
			}
		}
		if err := chunksBucket.Delete([]byte(id)); err != nil {
			return nil, 0, err
		}
		if err := blobsBucket.Delete([]byte(id)); err != nil {
			return nil, 0, err
		}
		if err := vectorsBucket.Delete([]byte(id)); err != nil {
			return nil, 0, err
		}
	}

	for term := range terms {
		data := termsBucket.Get([]byte(term))
		if data == nil {
			continue
		}
		var postings []domain.Posting
		if err := json.Unmarshal(data, &postings); err != nil {
			// Silently keeping a posting list we cannot filter would leave
			// entries pointing at deleted chunks. Abort the transaction.
			return nil, 0, fmt.Errorf("decode postings for %q: %w", term, err)
		}
		filtered := postings[:0]
		for _, p := range postings {
			if _, gone := removedSet[p.ChunkID]; !gone {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			if err := termsBucket.Delete([]byte(term)); err != nil {
				return nil, 0, err
			}
			continue
		}
		data, err := json.Marshal(filtered)
		if err != nil {
			return nil, 0, err
		}
		if err := termsBucket.Put([]byte(term), data); err != nil {
			return nil, 0, err
		}
	}

	if err := docChunks.Delete([]byte(docID)); err != nil {
		return nil, 0, err
	}
	return chunkIDs, tokenCount, nil
}

// PutDocument writes document metadata only. Used for status transitions
// during ingestion; never touches index entries.
func (s *BoltStore) PutDocument(doc domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encodeDoc(doc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Put([]byte(doc.ID), data)
	})
}

func (s *BoltStore) GetDocument(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		var err error
		doc, err = decodeDoc(id, data)
		return err
	})
	return doc, err
}

func (s *BoltStore) ListDocuments() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			doc, err := decodeDoc(string(k), v)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

// FindByHash returns the document with the given content hash, if any.
func (s *BoltStore) FindByHash(hash string) (domain.Document, bool, error) {
	var found domain.Document
	ok := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			if ok {
				return nil
			}
			doc, err := decodeDoc(string(k), v)
			if err != nil {
				return err
			}
			if doc.FileHash == hash {
				found = doc
				ok = true
			}
			return nil
		})
	})
	return found, ok, err
}

func (s *BoltStore) GetChunk(id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		chunk, err = readChunk(tx, id)
		return err
	})
	return chunk, err
}

func readChunk(tx *bbolt.Tx, id string) (domain.Chunk, error) {
	data := tx.Bucket(bucketChunks).Get([]byte(id))
	if data == nil {
		return domain.Chunk{}, fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
	}
	var meta chunkMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Chunk{}, err
	}
	text := tx.Bucket(bucketBlobs).Get([]byte(id))
	return domain.Chunk{
		ID:               id,
		DocID:            meta.DocID,
		Text:             string(text),
		Kind:             domain.StructureKind(meta.Kind),
		Position:         meta.Position,
		Page:             meta.Page,
		Section:          meta.Section,
		StructuralWeight: meta.StructuralWeight,
		Tokens:           meta.Tokens,
	}, nil
}

func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
		if data == nil {
			return nil
		}
		var chunkIDs []string
		if err := json.Unmarshal(data, &chunkIDs); err != nil {
			return err
		}
		for _, id := range chunkIDs {
			chunk, err := readChunk(tx, id)
			if err != nil {
				continue
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

func (s *BoltStore) Stats() (domain.Stats, error) {
	var stats corpusStats
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		stats, err = readStats(tx)
		return err
	})
	return stats.toDomain(), err
}

func readStats(tx *bbolt.Tx) (corpusStats, error) {
	var stats corpusStats
	data := tx.Bucket(bucketStats).Get(keyStats)
	if data == nil {
		return stats, nil
	}
	return stats, json.Unmarshal(data, &stats)
}

func writeStats(tx *bbolt.Tx, stats corpusStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketStats).Put(keyStats, data)
}

// PutQueryRecord persists a finalized query record for analytics.
func (s *BoltStore) PutQueryRecord(rec domain.QueryRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d:%s", rec.AskedAt.UnixNano(), rec.ID)
		return tx.Bucket(bucketQueries).Put([]byte(key), data)
	})
}

func (s *BoltStore) ListQueryRecords() ([]domain.QueryRecord, error) {
	var recs []domain.QueryRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueries).ForEach(func(k, v []byte) error {
			var rec domain.QueryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
