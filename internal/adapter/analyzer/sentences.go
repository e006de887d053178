package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// SplitSentences splits text at sentence boundaries. Terminators inside
// common abbreviations and decimal numbers do not end a sentence.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r != '.' && r != '?' && r != '!' && r != '\n' {
			continue
		}
		if r == '.' && !isBoundaryDot(runes, i) {
			continue
		}

		// Keep trailing citation markers with their sentence: the marker
		// applies only to the sentence it is attached to.
		j := i + 1
		for j < len(runes) {
			rest := string(runes[j:])
			trimmed := strings.TrimLeft(rest, " ")
			if loc := markerPattern.FindStringIndex(trimmed); loc != nil && loc[0] == 0 {
				consumed := len(rest) - len(trimmed) + loc[1]
				current.WriteString(rest[:consumed])
				i = j + consumed - 1
				j = i + 1
				continue
			}
			break
		}

		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// isBoundaryDot reports whether the dot at index i ends a sentence.
func isBoundaryDot(runes []rune, i int) bool {
	// Decimal number: 3.14
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}
	// Abbreviation heuristic: single letter before the dot (e.g. "p. 4",
	// "J. Smith") or another dot right after ("e.g.").
	if i > 0 && unicode.IsLetter(runes[i-1]) {
		if i == 1 || !unicode.IsLetter(runes[i-2]) {
			return false
		}
	}
	// Must be followed by whitespace, a marker, or end of text.
	if i+1 < len(runes) {
		next := runes[i+1]
		if !unicode.IsSpace(next) && next != '[' {
			return false
		}
	}
	return true
}

// ExtractMarkers returns the citation markers referenced in a sentence and
// the sentence text with markers stripped.
func ExtractMarkers(sentence string) (clean string, markers []int) {
	matches := markerPattern.FindAllStringSubmatch(sentence, -1)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		markers = append(markers, n)
	}
	clean = strings.TrimSpace(markerPattern.ReplaceAllString(sentence, ""))
	return clean, markers
}

// SentenceBuffer accumulates streamed answer fragments and emits completed
// sentences as boundaries appear. Validation consumes this lazy finite
// sequence instead of raw token deltas.
type SentenceBuffer struct {
	pending strings.Builder
	full    strings.Builder
}

// NewSentenceBuffer creates an empty buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Write appends a fragment and returns any sentences completed by it.
func (b *SentenceBuffer) Write(fragment string) []string {
	b.pending.WriteString(fragment)
	b.full.WriteString(fragment)

	runes := []rune(b.pending.String())
	cut := safeCut(runes)
	if cut == 0 {
		return nil
	}

	head := string(runes[:cut])
	rest := string(runes[cut:])
	b.pending.Reset()
	b.pending.WriteString(rest)
	return SplitSentences(head)
}

// Flush returns any remaining buffered sentences or trailing fragment.
func (b *SentenceBuffer) Flush() []string {
	text := b.pending.String()
	b.pending.Reset()
	return SplitSentences(text)
}

// Text returns everything written so far.
func (b *SentenceBuffer) Text() string {
	return b.full.String()
}

// safeCut returns the number of leading runes that form fully completed
// sentences, markers included. A sentence counts as complete only once
// the start of the NEXT sentence has been seen: a terminator at the end
// of the buffer may still grow a citation marker in a later fragment, so
// it stays pending until Flush.
func safeCut(runes []rune) int {
	cut := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '?' && r != '!' && r != '\n' {
			continue
		}
		if r == '.' && !isBoundaryDot(runes, i) {
			continue
		}

		j := i + 1
		for j < len(runes) {
			rest := string(runes[j:])
			trimmed := strings.TrimLeft(rest, " ")
			if loc := markerPattern.FindStringIndex(trimmed); loc != nil && loc[0] == 0 {
				consumed := len(rest) - len(trimmed) + loc[1]
				j += len([]rune(rest[:consumed]))
				continue
			}
			break
		}

		k := j
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k < len(runes) && runes[k] != '[' {
			cut = j
			i = j - 1
		}
	}
	return cut
}
