package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/adapter/chunker"
	"rlg/internal/adapter/parser"
	"rlg/internal/adapter/store"
	"rlg/internal/domain"
)

func newIngestHarness(t *testing.T) (*Ingestor, *store.BoltStore, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewBoltStore(filepath.Join(dir, "index.db"), hashDim, 1.2, 0.75)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tokenizer := analyzer.NewTokenizer()
	chk := chunker.NewStructureChunker(128, 20, 0, tokenizer)
	ing := NewIngestor(parser.NewTextParser(), chk, hashEmbedder{}, st, log.New(io.Discard))
	return ing, st, dir
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const policyDoc = `# Refund Policy

Customers may return items within thirty days of purchase.

## Shipping

Orders ship within two business days.
`

func TestIngestFile(t *testing.T) {
	ing, st, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "policy.md", policyDoc)

	res, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, domain.StatusIndexed, res.Document.Status)
	assert.Greater(t, res.Chunks, 0)

	chunks, err := st.GetChunksByDoc(res.Document.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, res.Chunks)

	hits, err := st.SearchKeyword([]string{"refund"}, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "ingested content must be keyword searchable")
}

func TestIngestUnchangedFileSkipped(t *testing.T) {
	ing, _, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "policy.md", policyDoc)

	first, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)

	second, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Document.ID, second.Document.ID)
}

func TestIngestChangedFileReplaces(t *testing.T) {
	ing, st, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "policy.md", policyDoc)

	first, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)

	writeDoc(t, dir, "policy.md", "# New Policy\n\nEverything changed substantially today.\n")
	second, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Equal(t, first.Document.ID, second.Document.ID, "same path keeps its identity")

	docs, err := st.ListDocuments()
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	hits, err := st.SearchKeyword([]string{"thirty"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "old content must be gone after replacement")
}

// downEmbedder fails every call, standing in for an unreachable backend.
type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding backend down")
}
func (downEmbedder) Dimension() int    { return hashDim }
func (downEmbedder) ModelName() string { return "down" }

func TestFailedReingestKeepsOldContentQueryable(t *testing.T) {
	ing, st, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "policy.md", policyDoc)

	first, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)

	// Same store, but the embedding backend is down for the re-ingestion.
	broken := NewIngestor(parser.NewTextParser(), chunker.NewStructureChunker(128, 20, 0, analyzer.NewTokenizer()), downEmbedder{}, st, log.New(io.Discard))
	writeDoc(t, dir, "policy.md", "# New Policy\n\nEverything changed substantially today.\n")
	_, err = broken.IngestFile(context.Background(), path, 1.0)
	require.Error(t, err)

	// The previous version stays fully queryable: still indexed, and its
	// keyword hits still resolve to real chunks.
	doc, err := st.GetDocument(first.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, doc.Status)

	hits, err := st.SearchKeyword([]string{"thirty"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	chunks, docs, err := st.Resolve(hits)
	require.NoError(t, err)
	assert.Len(t, chunks, len(hits), "keyword hits must resolve to chunks")
	assert.Contains(t, docs, first.Document.ID)
}

func TestIngestUnsupportedFormat(t *testing.T) {
	ing, _, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "report.pdf", "%PDF-fake")

	_, err := ing.IngestFile(context.Background(), path, 1.0)
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestIngestInvalidReliability(t *testing.T) {
	ing, _, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "policy.md", policyDoc)

	_, err := ing.IngestFile(context.Background(), path, 1.5)
	require.Error(t, err)
}

func TestIngestParseFailureMarksDocumentFailed(t *testing.T) {
	ing, st, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "empty.txt", "   \n\n   ")

	_, err := ing.IngestFile(context.Background(), path, 1.0)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrParseFailure))

	docs, err := st.ListDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.StatusFailed, docs[0].Status)
	assert.NotEmpty(t, docs[0].Error)

	// A failed document never contributes index entries.
	hits, err := st.SearchKeyword([]string{"empty"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRemoveByName(t *testing.T) {
	ing, st, dir := newIngestHarness(t)
	path := writeDoc(t, dir, "policy.md", policyDoc)

	_, err := ing.IngestFile(context.Background(), path, 1.0)
	require.NoError(t, err)

	doc, err := ing.Remove("policy.md")
	require.NoError(t, err)
	assert.Equal(t, "policy.md", doc.Name)

	docs, err := st.ListDocuments()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRemoveUnknownDocument(t *testing.T) {
	ing, _, _ := newIngestHarness(t)
	_, err := ing.Remove("missing.md")
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
