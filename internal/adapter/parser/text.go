package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"rlg/internal/domain"
)

// TextParser extracts structural blocks from plain text and Markdown.
// Heavier formats (PDF, DOCX) live behind the same port in external
// services; this adapter keeps the pipeline usable end to end on local
// files. Tables are emitted row by row so oversized tables split on rows,
// never on raw character count.
type TextParser struct{}

// NewTextParser creates a new TextParser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Supports reports whether the parser handles the given file type.
func (p *TextParser) Supports(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "txt", "text", "md", "markdown":
		return true
	}
	return false
}

// Parse extracts blocks from the document bytes.
func (p *TextParser) Parse(_ context.Context, data []byte, fileType string) ([]domain.Block, error) {
	if !p.Supports(fileType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, fileType)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", domain.ErrParseFailure)
	}

	text := string(data)
	switch strings.ToLower(fileType) {
	case "md", "markdown":
		return p.parseMarkdown(text), nil
	default:
		return p.parseText(text), nil
	}
}

// parseText splits plain text into paragraph blocks on blank lines.
func (p *TextParser) parseText(text string) []domain.Block {
	var blocks []domain.Block
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		blocks = append(blocks, domain.Block{
			Kind: domain.KindParagraph,
			Text: strings.Join(strings.Fields(para), " "),
		})
	}
	return blocks
}

// parseMarkdown walks the source line by line, classifying headings, list
// items, table rows, fenced code and quotes.
func (p *TextParser) parseMarkdown(text string) []domain.Block {
	var blocks []domain.Block
	var paragraph []string
	inFence := false
	var fence []string

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		blocks = append(blocks, domain.Block{
			Kind: domain.KindParagraph,
			Text: strings.Join(paragraph, " "),
		})
		paragraph = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				blocks = append(blocks, domain.Block{
					Kind: domain.KindCodeBlock,
					Text: strings.Join(fence, "\n"),
				})
				fence = nil
			} else {
				flushParagraph()
			}
			inFence = !inFence
			continue
		}
		if inFence {
			fence = append(fence, line)
			continue
		}

		if trimmed == "" {
			flushParagraph()
			continue
		}

		if m := headingPattern.FindStringSubmatch(trimmed); m != nil {
			flushParagraph()
			blocks = append(blocks, domain.Block{
				Kind:  domain.KindHeading,
				Text:  m[2],
				Level: len(m[1]),
			})
			continue
		}

		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ ") {
			flushParagraph()
			blocks = append(blocks, domain.Block{
				Kind: domain.KindListItem,
				Text: strings.TrimSpace(trimmed[2:]),
			})
			continue
		}

		if strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") {
			flushParagraph()
			if isTableSeparator(trimmed) {
				continue
			}
			blocks = append(blocks, domain.Block{
				Kind: domain.KindTableRow,
				Text: tableRowText(trimmed),
			})
			continue
		}

		if strings.HasPrefix(trimmed, "> ") {
			flushParagraph()
			blocks = append(blocks, domain.Block{
				Kind: domain.KindQuote,
				Text: strings.TrimSpace(trimmed[2:]),
			})
			continue
		}

		paragraph = append(paragraph, trimmed)
	}

	if inFence && len(fence) > 0 {
		blocks = append(blocks, domain.Block{
			Kind: domain.KindCodeBlock,
			Text: strings.Join(fence, "\n"),
		})
	}
	flushParagraph()

	return blocks
}

func isTableSeparator(row string) bool {
	inner := strings.Trim(row, "|")
	for _, cell := range strings.Split(inner, "|") {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if strings.Trim(cell, ":-") != "" {
			return false
		}
	}
	return true
}

func tableRowText(row string) string {
	inner := strings.Trim(row, "|")
	cells := strings.Split(inner, "|")
	out := make([]string, 0, len(cells))
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			out = append(out, cell)
		}
	}
	return strings.Join(out, " | ")
}
