package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"rlg/internal/domain"
	"rlg/internal/port"
)

// Ingestor drives the ingestion pipeline: parse, chunk, embed, index.
// A new document moves pending -> processing -> indexed, or -> failed with
// the error recorded on the document. A failed document never leaves
// partial chunks behind; the index write is all-or-nothing, and a
// re-ingested path keeps serving its previous version until the
// replacement commits.
type Ingestor struct {
	parser   port.Parser
	chunker  port.Chunker
	embedder port.Embedder
	store    port.IndexStore
	logger   *log.Logger
}

// IngestResult summarizes one document's ingestion.
type IngestResult struct {
	Document domain.Document
	Chunks   int
	Skipped  bool // unchanged since last ingestion
}

func NewIngestor(parser port.Parser, chunker port.Chunker, embedder port.Embedder, store port.IndexStore, logger *log.Logger) *Ingestor {
	return &Ingestor{
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// IngestFile ingests a single file with the given reliability weight.
// Re-ingesting an unchanged file (same content hash) is a no-op; a
// changed file replaces its previous chunk set atomically.
func (in *Ingestor) IngestFile(ctx context.Context, path string, reliability float64) (IngestResult, error) {
	if reliability < 0 || reliability > 1 {
		return IngestResult{}, fmt.Errorf("reliability must be in [0,1], got %.2f", reliability)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{}, fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	if existing, ok, err := in.store.FindByHash(fileHash); err != nil {
		return IngestResult{}, err
	} else if ok && existing.Status == domain.StatusIndexed {
		in.logger.Debug("unchanged, skipping", "file", path)
		return IngestResult{Document: existing, Chunks: existing.ChunkCount, Skipped: true}, nil
	}

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !in.parser.Supports(fileType) {
		return IngestResult{}, fmt.Errorf("%s: %w", path, domain.ErrUnsupportedFormat)
	}

	doc := domain.Document{
		ID:          uuid.NewString(),
		Name:        filepath.Base(path),
		Path:        path,
		FileType:    fileType,
		Reliability: reliability,
		Status:      domain.StatusPending,
		FileHash:    fileHash,
		CreatedAt:   time.Now(),
	}

	// If the same path was ingested before with different content, the new
	// version takes over the old document's identity so the swap is atomic.
	// The old version's record is NOT touched before the swap commits: the
	// pending/processing lifecycle is persisted only for brand-new paths, so
	// the previous chunk set stays queryable throughout re-ingestion and
	// survives a re-ingestion that fails.
	prev, replacing := in.findByPath(path)
	if replacing {
		doc.ID = prev.ID
		doc.CreatedAt = prev.CreatedAt
	} else {
		if err := in.store.PutDocument(doc); err != nil {
			return IngestResult{}, err
		}
		doc.Status = domain.StatusProcessing
		if err := in.store.PutDocument(doc); err != nil {
			return IngestResult{}, err
		}
	}

	chunks, err := in.process(ctx, doc, data)
	if err != nil {
		return IngestResult{}, in.failIngest(doc, replacing, fmt.Errorf("ingest %s: %w", path, err))
	}

	doc.Status = domain.StatusIndexed
	doc.ChunkCount = len(chunks)
	doc.PageCount = maxPage(chunks)
	doc.IndexedAt = time.Now()

	if err := in.store.ApplyDocument(doc, chunks); err != nil {
		return IngestResult{}, in.failIngest(doc, replacing, fmt.Errorf("index %s: %w", path, err))
	}

	in.logger.Info("indexed", "file", doc.Name, "chunks", len(chunks), "reliability", reliability)
	return IngestResult{Document: doc, Chunks: len(chunks)}, nil
}

// failIngest records a failed ingestion. A failed re-ingestion leaves the
// previous version's record alone; marking it failed would cut its still-
// indexed chunks off from retrieval.
func (in *Ingestor) failIngest(doc domain.Document, replacing bool, cause error) error {
	if replacing {
		in.logger.Warn("re-ingestion failed, previous version kept", "file", doc.Name, "err", cause)
		return cause
	}
	doc.Status = domain.StatusFailed
	doc.Error = cause.Error()
	if putErr := in.store.PutDocument(doc); putErr != nil {
		in.logger.Error("record ingestion failure", "file", doc.Name, "err", putErr)
	}
	return cause
}

// process runs parse -> chunk -> embed and returns the finished chunks.
func (in *Ingestor) process(ctx context.Context, doc domain.Document, data []byte) ([]domain.Chunk, error) {
	blocks, err := in.parser.Parse(ctx, data, doc.FileType)
	if err != nil {
		return nil, err
	}

	chunks, err := in.chunker.Chunk(doc, blocks)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no extractable text", domain.ErrParseFailure)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	return chunks, nil
}

// Remove deletes a document and everything derived from it. The document
// may be addressed by ID, name or path.
func (in *Ingestor) Remove(ref string) (domain.Document, error) {
	doc, err := in.resolveRef(ref)
	if err != nil {
		return domain.Document{}, err
	}
	if err := in.store.RemoveDocument(doc.ID); err != nil {
		return domain.Document{}, err
	}
	in.logger.Info("removed", "file", doc.Name, "chunks", doc.ChunkCount)
	return doc, nil
}

func (in *Ingestor) resolveRef(ref string) (domain.Document, error) {
	if doc, err := in.store.GetDocument(ref); err == nil {
		return doc, nil
	}
	docs, err := in.store.ListDocuments()
	if err != nil {
		return domain.Document{}, err
	}
	for _, doc := range docs {
		if doc.Name == ref || doc.Path == ref {
			return doc, nil
		}
	}
	return domain.Document{}, fmt.Errorf("%q: %w", ref, domain.ErrDocumentNotFound)
}

func (in *Ingestor) findByPath(path string) (domain.Document, bool) {
	docs, err := in.store.ListDocuments()
	if err != nil {
		return domain.Document{}, false
	}
	for _, doc := range docs {
		if doc.Path == path {
			return doc, true
		}
	}
	return domain.Document{}, false
}

func maxPage(chunks []domain.Chunk) int {
	max := 0
	for _, c := range chunks {
		if c.Page > max {
			max = c.Page
		}
	}
	return max
}
