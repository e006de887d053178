package domain

import "time"

// DocumentStatus tracks a document through the ingestion lifecycle.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is a source file in the corpus. It owns its chunks: deleting a
// document cascades to every chunk and index entry derived from it.
type Document struct {
	ID          string
	Name        string
	Path        string
	FileType    string
	Reliability float64 // caller-assigned trust weight in [0,1]
	Status      DocumentStatus
	Error       string
	FileHash    string
	PageCount   int
	ChunkCount  int
	CreatedAt   time.Time
	IndexedAt   time.Time
}

// StructureKind classifies a chunk's role in document structure.
type StructureKind string

const (
	KindHeading   StructureKind = "heading"
	KindParagraph StructureKind = "paragraph"
	KindListItem  StructureKind = "list_item"
	KindTableRow  StructureKind = "table_row"
	KindCodeBlock StructureKind = "code_block"
	KindQuote     StructureKind = "quote"
)

// StructuralWeightFor returns the ranking boost for a structure kind.
// Headings carry more signal per token than body text.
func StructuralWeightFor(kind StructureKind) float64 {
	switch kind {
	case KindHeading:
		return 1.2
	case KindTableRow:
		return 1.1
	default:
		return 1.0
	}
}

// MaxStructuralWeight is the ceiling used to normalize structural weights
// into [0,1] during fusion.
const MaxStructuralWeight = 1.2

// Chunk is an indexable unit of a document. Position is strictly increasing
// within a document and drives stable ordering and page/section attribution.
// Embedding is computed once at ingestion and immutable afterwards.
type Chunk struct {
	ID               string
	DocID            string
	Text             string
	Kind             StructureKind
	Position         int
	Page             int
	Section          string
	StructuralWeight float64
	Tokens           []string
	Embedding        []float32
}

// Block is a structurally annotated unit produced by the document parser.
// It is the "structure hint" input to the chunker, not yet sized for
// retrieval.
type Block struct {
	Kind  StructureKind
	Text  string
	Page  int
	Level int // heading level, 1-6; zero otherwise
}

// Posting is one inverted-index entry: a chunk containing a term.
type Posting struct {
	ChunkID string
	TF      int
}

// Stats holds corpus-level aggregates needed by BM25.
type Stats struct {
	TotalDocs   int
	TotalChunks int
	AvgChunkLen float64
}

// RetrievalCandidate is a per-query scored chunk. Sub-scores missing from a
// retrieval leg default to zero. Candidates are ephemeral and never
// persisted.
type RetrievalCandidate struct {
	Chunk           Chunk
	Document        Document
	BM25Score       float64
	DenseScore      float64
	StructuralScore float64
	FusedScore      float64
}

// Citation binds a query-scoped 1-based marker to a chunk and the exact
// excerpt shown to the generator. Markers are never reused within a query.
type Citation struct {
	Marker       int
	ChunkID      string
	DocumentName string
	Page         int
	Section      string
	Excerpt      string
}

// Claim is one sentence of a generated answer together with the citation
// markers attached to it. A sentence with no markers cites nothing.
type Claim struct {
	Text    string
	Markers []int
}

// VerdictKind is the closed set of per-claim outcomes.
type VerdictKind string

const (
	VerdictGrounded          VerdictKind = "grounded"
	VerdictPartiallyGrounded VerdictKind = "partially_grounded"
	VerdictUngrounded        VerdictKind = "ungrounded"
)

// UngroundedReason explains why a claim failed verification.
type UngroundedReason string

const (
	ReasonNoCitation      UngroundedReason = "no_citation"
	ReasonInvalidCitation UngroundedReason = "invalid_citation"
	ReasonLowSimilarity   UngroundedReason = "low_similarity"
	ReasonNotVerbatim     UngroundedReason = "not_verbatim"
)

// Weight returns the claim's contribution to the grounding score.
func (k VerdictKind) Weight() float64 {
	switch k {
	case VerdictGrounded:
		return 1.0
	case VerdictPartiallyGrounded:
		return 0.5
	default:
		return 0.0
	}
}

// Verdict is the validation outcome for a single claim.
type Verdict struct {
	Claim      Claim
	Kind       VerdictKind
	Confidence float64
	Reason     UngroundedReason
	Marker     int // the marker that supplied the supporting excerpt, 0 if none
}

// QueryRecord captures one question for analytics. Immutable once finalized.
type QueryRecord struct {
	ID             string
	Question       string
	AskedAt        time.Time
	TopK           int
	MinReliability float64
	Extractive     bool
	GroundingScore float64
	Status         string
	SourcesChecked int
	DurationMS     int64
}

// Source describes one cited excerpt in an accepted answer.
type Source struct {
	DocumentName string  `json:"document_name"`
	Page         int     `json:"page_number,omitempty"`
	Section      string  `json:"section,omitempty"`
	Excerpt      string  `json:"excerpt"`
	Marker       int     `json:"marker"`
	Relevance    float64 `json:"relevance_score"`
}

// Answer is the accepted response shape.
type Answer struct {
	Status         string   `json:"status"` // always "answered"
	Text           string   `json:"answer"`
	GroundingScore float64  `json:"grounding_score"`
	Sources        []Source `json:"sources_used,omitempty"`
}

// NoAnswer is the structured rejection shape. It is a designed policy
// outcome, not an error.
type NoAnswer struct {
	Status         string   `json:"status"` // always "no_grounded_answer"
	Reason         string   `json:"reason"`
	Suggestions    []string `json:"suggestions,omitempty"`
	PartialInfo    string   `json:"partial_info,omitempty"`
	SourcesChecked int      `json:"sources_checked"`
}

const (
	StatusAnswered         = "answered"
	StatusNoGroundedAnswer = "no_grounded_answer"
)
