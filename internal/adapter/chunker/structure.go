package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/domain"
)

// StructureChunker splits parsed blocks into chunks along structural
// boundaries first, then applies a target size window with overlap inside
// a single structural unit. It never merges content across a heading
// boundary, and oversized atomic units split on internal structure rather
// than raw character count.
type StructureChunker struct {
	targetTokens int
	overlap      int
	minBlock     int // blocks shorter than this (in characters) merge into a neighbor
	tokenizer    *analyzer.Tokenizer
}

// NewStructureChunker creates a new StructureChunker.
func NewStructureChunker(targetTokens, overlap, minBlock int, tokenizer *analyzer.Tokenizer) *StructureChunker {
	return &StructureChunker{
		targetTokens: targetTokens,
		overlap:      overlap,
		minBlock:     minBlock,
		tokenizer:    tokenizer,
	}
}

// Chunk converts blocks into ordered chunks with strictly increasing
// positions. A document with no extractable structure degrades to plain
// fixed-window chunking of the concatenated text.
func (c *StructureChunker) Chunk(doc domain.Document, blocks []domain.Block) ([]domain.Chunk, error) {
	if len(blocks) == 0 {
		return nil, nil
	}

	blocks = c.mergeSmallBlocks(blocks)

	var chunks []domain.Chunk
	position := 0
	section := ""

	emit := func(text string, kind domain.StructureKind, page int) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, domain.Chunk{
			ID:               chunkID(doc.ID, position),
			DocID:            doc.ID,
			Text:             text,
			Kind:             kind,
			Position:         position,
			Page:             page,
			Section:          section,
			StructuralWeight: domain.StructuralWeightFor(kind),
			Tokens:           c.tokenizer.Tokenize(text),
		})
		position++
	}

	for _, block := range blocks {
		if block.Kind == domain.KindHeading {
			// Headings are chunk boundaries and their own chunks; the
			// section attribution applies to everything that follows.
			emit(block.Text, domain.KindHeading, block.Page)
			section = strings.TrimSpace(block.Text)
			continue
		}

		if c.tokenizer.CountTokens(block.Text) <= c.targetTokens {
			emit(block.Text, block.Kind, block.Page)
			continue
		}

		// Oversized unit: split on sentences within the block, packing
		// windows up to the target size with overlap.
		for _, window := range c.windows(block.Text) {
			emit(window, block.Kind, block.Page)
		}
	}

	return chunks, nil
}

// ChunkPlain is the degraded path for documents with no extractable
// structure: fixed windows over the raw text.
func (c *StructureChunker) ChunkPlain(doc domain.Document, text string) ([]domain.Chunk, error) {
	return c.Chunk(doc, []domain.Block{{Kind: domain.KindParagraph, Text: text}})
}

// windows packs a unit's sentences into target-sized windows, carrying
// overlap sentences between consecutive windows.
func (c *StructureChunker) windows(text string) []string {
	sentences := analyzer.SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var out []string
	start := 0

	for start < len(sentences) {
		end := start
		tokens := 0
		for end < len(sentences) {
			n := c.tokenizer.CountTokens(sentences[end])
			if tokens > 0 && tokens+n > c.targetTokens {
				break
			}
			tokens += n
			end++
		}
		if end == start {
			end++ // single sentence larger than the target still gets a window
		}

		out = append(out, strings.Join(sentences[start:end], " "))
		if end >= len(sentences) {
			break
		}

		overlapSentences := 0
		overlapTokens := 0
		for i := end - 1; i >= start && overlapTokens < c.overlap; i-- {
			overlapTokens += c.tokenizer.CountTokens(sentences[i])
			overlapSentences++
		}

		newStart := end - overlapSentences
		if newStart <= start {
			newStart = start + 1
		}
		start = newStart
	}

	return out
}

// mergeSmallBlocks folds undersized non-heading blocks into the previous
// block of the same kind, so tiny fragments do not become chunks. Merging
// never crosses a heading.
func (c *StructureChunker) mergeSmallBlocks(blocks []domain.Block) []domain.Block {
	if c.minBlock <= 0 || len(blocks) < 2 {
		return blocks
	}

	merged := make([]domain.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Kind != domain.KindHeading && len(b.Text) < c.minBlock && len(merged) > 0 {
			prev := &merged[len(merged)-1]
			if prev.Kind == b.Kind {
				prev.Text = prev.Text + " " + b.Text
				continue
			}
		}
		merged = append(merged, b)
	}
	return merged
}

func chunkID(docID string, position int) string {
	data := fmt.Sprintf("%s:%d", docID, position)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
