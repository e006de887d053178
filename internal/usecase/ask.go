package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/domain"
	"rlg/internal/port"
)

// Orchestrator runs the full query pipeline: retrieve, assemble,
// generate, validate, gate. Its output is always one of the two designed
// shapes; an answer that fails the grounding gate becomes a structured
// no_grounded_answer response, never an error.
type Orchestrator struct {
	retriever port.Retriever
	assembler *Assembler
	generator port.Generator
	validator *Validator
	store     port.IndexStore
	logger    *log.Logger

	topK           int
	minReliability float64
	minConfidence  float64
	timeout        time.Duration
	stream         bool
}

// AskOptions override per-query behavior. Start from DefaultAskOptions;
// the zero value disables the grounding gate and source attribution.
type AskOptions struct {
	TopK             int     // 0 = configured default
	MinReliability   float64 // negative = configured default
	Extractive       bool
	RequireGrounding bool                   // false: answers below the gate are returned with their score
	IncludeSources   bool                   // false: omit source attributions from the answer
	OnSentence       func(sentence string) // streaming hook, called per completed sentence
}

// DefaultAskOptions returns the options a plain query uses: configured
// reliability floor, gate enforced, sources attached.
func DefaultAskOptions() AskOptions {
	return AskOptions{
		MinReliability:   -1,
		RequireGrounding: true,
		IncludeSources:   true,
	}
}

// AskResponse is the pipeline outcome. Exactly one of Answer and NoAnswer
// is set.
type AskResponse struct {
	Answer   *domain.Answer
	NoAnswer *domain.NoAnswer
	Verdicts []domain.Verdict
}

func NewOrchestrator(
	retriever port.Retriever,
	assembler *Assembler,
	generator port.Generator,
	validator *Validator,
	store port.IndexStore,
	logger *log.Logger,
	topK int,
	minReliability, minConfidence float64,
	timeout time.Duration,
	stream bool,
) *Orchestrator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Orchestrator{
		retriever:      retriever,
		assembler:      assembler,
		generator:      generator,
		validator:      validator,
		store:          store,
		logger:         logger,
		topK:           topK,
		minReliability: minReliability,
		minConfidence:  minConfidence,
		timeout:        timeout,
		stream:         stream,
	}
}

// Ask answers a question from the indexed corpus.
func (o *Orchestrator) Ask(ctx context.Context, question string, opts AskOptions) (*AskResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	topK := o.topK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	minReliability := o.minReliability
	if opts.MinReliability >= 0 {
		minReliability = opts.MinReliability
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	record := domain.QueryRecord{
		ID:             uuid.NewString(),
		Question:       question,
		AskedAt:        started,
		TopK:           topK,
		MinReliability: minReliability,
		Extractive:     opts.Extractive,
	}

	candidates, err := o.retriever.Retrieve(ctx, question, topK, minReliability)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		o.logger.Info("no candidates", "question", question)
		resp := &AskResponse{NoAnswer: &domain.NoAnswer{
			Status: domain.StatusNoGroundedAnswer,
			Reason: "no document in the corpus matches the question",
			Suggestions: []string{
				"rephrase the question using terms that appear in the documents",
				"ingest documents that cover this topic",
			},
			SourcesChecked: 0,
		}}
		o.finishRecord(record, domain.StatusNoGroundedAnswer, 0, 0, started)
		return resp, nil
	}

	assembled, err := o.assembler.Assemble(question, candidates, opts.Extractive)
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}
	if assembled == nil {
		resp := &AskResponse{NoAnswer: &domain.NoAnswer{
			Status:         domain.StatusNoGroundedAnswer,
			Reason:         "retrieved sources could not be fitted into the context budget",
			SourcesChecked: len(candidates),
		}}
		o.finishRecord(record, domain.StatusNoGroundedAnswer, 0, len(candidates), started)
		return resp, nil
	}

	answerText, err := o.generate(ctx, assembled.Prompt, opts.OnSentence)
	if err != nil {
		return nil, err
	}

	report, err := o.validator.Validate(ctx, answerText, assembled, opts.Extractive)
	if err != nil {
		return nil, fmt.Errorf("validate answer: %w", err)
	}

	sourcesChecked := len(assembled.Citations)
	o.logger.Debug("validated",
		"claims", report.Claims,
		"score", fmt.Sprintf("%.2f", report.GroundingScore),
		"gate", fmt.Sprintf("%.2f", o.minConfidence))

	if opts.RequireGrounding && (report.Claims == 0 || report.GroundingScore < o.minConfidence) {
		resp := &AskResponse{
			NoAnswer: o.buildRejection(report, sourcesChecked),
			Verdicts: report.Verdicts,
		}
		o.finishRecord(record, domain.StatusNoGroundedAnswer, report.GroundingScore, sourcesChecked, started)
		return resp, nil
	}

	answer := &domain.Answer{
		Status:         domain.StatusAnswered,
		Text:           answerText,
		GroundingScore: report.GroundingScore,
	}
	if opts.IncludeSources {
		answer.Sources = o.buildSources(report, assembled, candidates)
	}
	resp := &AskResponse{
		Answer:   answer,
		Verdicts: report.Verdicts,
	}
	o.finishRecord(record, domain.StatusAnswered, report.GroundingScore, sourcesChecked, started)
	return resp, nil
}

// generate runs the gateway, streaming through a sentence buffer when a
// hook is set so callers see whole sentences, never raw token deltas.
func (o *Orchestrator) generate(ctx context.Context, prompt string, onSentence func(string)) (string, error) {
	if !o.stream || onSentence == nil {
		return o.generator.Generate(ctx, prompt)
	}

	buf := analyzer.NewSentenceBuffer()
	err := o.generator.Stream(ctx, prompt, func(fragment string) error {
		for _, sentence := range buf.Write(fragment) {
			onSentence(sentence)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	for _, tail := range buf.Flush() {
		onSentence(tail)
	}
	return buf.Text(), nil
}

// buildRejection shapes the no_grounded_answer response, salvaging the
// grounded subset of claims as partial info when any exist.
func (o *Orchestrator) buildRejection(report ValidationReport, sourcesChecked int) *domain.NoAnswer {
	reasons := make(map[domain.UngroundedReason]int)
	var partial []string
	for _, v := range report.Verdicts {
		switch v.Kind {
		case domain.VerdictGrounded:
			partial = append(partial, v.Claim.Text)
		case domain.VerdictUngrounded:
			reasons[v.Reason]++
		}
	}

	reason := fmt.Sprintf("only %.0f%% of the answer could be verified against the sources (minimum %.0f%%)",
		report.GroundingScore*100, o.minConfidence*100)
	if report.Claims == 0 {
		reason = "the generated answer contained no verifiable claims"
	}

	suggestions := []string{"rephrase the question to be more specific"}
	if reasons[domain.ReasonNoCitation] > 0 || reasons[domain.ReasonInvalidCitation] > 0 {
		suggestions = append(suggestions, "ask about a narrower topic so the answer can cite its sources")
	}
	if reasons[domain.ReasonLowSimilarity] > 0 || reasons[domain.ReasonNotVerbatim] > 0 {
		suggestions = append(suggestions, "ingest documents that cover this topic directly")
	}

	return &domain.NoAnswer{
		Status:         domain.StatusNoGroundedAnswer,
		Reason:         reason,
		Suggestions:    suggestions,
		PartialInfo:    strings.Join(partial, " "),
		SourcesChecked: sourcesChecked,
	}
}

// buildSources lists the citations actually used by verified claims, in
// marker order, carrying the fused retrieval score as relevance.
func (o *Orchestrator) buildSources(report ValidationReport, assembled *AssembledContext, candidates []domain.RetrievalCandidate) []domain.Source {
	relevance := make(map[string]float64, len(candidates))
	for _, cand := range candidates {
		relevance[cand.Chunk.ID] = cand.FusedScore
	}

	used := make(map[int]bool)
	for _, v := range report.Verdicts {
		if v.Kind == domain.VerdictUngrounded {
			continue
		}
		for _, m := range v.Claim.Markers {
			used[m] = true
		}
	}

	var sources []domain.Source
	for _, c := range assembled.Citations {
		if !used[c.Marker] {
			continue
		}
		sources = append(sources, domain.Source{
			DocumentName: c.DocumentName,
			Page:         c.Page,
			Section:      c.Section,
			Excerpt:      c.Excerpt,
			Marker:       c.Marker,
			Relevance:    relevance[c.ChunkID],
		})
	}
	return sources
}

func (o *Orchestrator) finishRecord(record domain.QueryRecord, status string, score float64, sourcesChecked int, started time.Time) {
	record.Status = status
	record.GroundingScore = score
	record.SourcesChecked = sourcesChecked
	record.DurationMS = time.Since(started).Milliseconds()
	if err := o.store.PutQueryRecord(record); err != nil {
		o.logger.Warn("persist query record", "err", err)
	}
}
