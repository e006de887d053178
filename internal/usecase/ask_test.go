package usecase

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/adapter/store"
	"rlg/internal/domain"
	"rlg/internal/port"
)

func newOrchestrator(t *testing.T, retriever port.Retriever, generator port.Generator, stream bool) (*Orchestrator, *store.BoltStore) {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "index.db"), 4, 1.2, 0.75)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tokenizer := analyzer.NewTokenizer()
	assembler := NewAssembler(st, tokenizer, 4000, 0)
	validator := NewValidator(hashEmbedder{}, tokenizer, 0.4, 0.7)
	logger := log.New(io.Discard)

	orch := NewOrchestrator(
		retriever, assembler, generator, validator, st, logger,
		5, 0.5, 0.7, 10*time.Second, stream,
	)
	return orch, st
}

func policyCandidates() []domain.RetrievalCandidate {
	return []domain.RetrievalCandidate{
		candidate("c1", "d1", "policy.md", "The refund window is thirty days from the purchase date.", 0, 0.9),
		candidate("c2", "d1", "policy.md", "Shipping takes two business days for domestic orders.", 1, 0.7),
	}
}

func TestAskAnsweredWhenFullyGrounded(t *testing.T) {
	gen := &stubGenerator{text: "The refund window is thirty days. [1]"}
	orch, st := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, false)

	resp, err := orch.Ask(context.Background(), "What is the refund window?", DefaultAskOptions())
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)
	assert.Nil(t, resp.NoAnswer)

	assert.Equal(t, domain.StatusAnswered, resp.Answer.Status)
	assert.Equal(t, 1.0, resp.Answer.GroundingScore)
	require.Len(t, resp.Answer.Sources, 1)
	assert.Equal(t, 1, resp.Answer.Sources[0].Marker)
	assert.Equal(t, "policy.md", resp.Answer.Sources[0].DocumentName)
	assert.Equal(t, 0.9, resp.Answer.Sources[0].Relevance)

	recs, err := st.ListQueryRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusAnswered, recs[0].Status)
	assert.Equal(t, 1.0, recs[0].GroundingScore)
}

func TestAskRejectsUngroundedAnswer(t *testing.T) {
	gen := &stubGenerator{text: "Refunds take ninety days and require notarized forms."}
	orch, st := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, false)

	resp, err := orch.Ask(context.Background(), "What is the refund window?", DefaultAskOptions())
	require.NoError(t, err)
	require.NotNil(t, resp.NoAnswer)
	assert.Nil(t, resp.Answer)

	assert.Equal(t, domain.StatusNoGroundedAnswer, resp.NoAnswer.Status)
	assert.NotEmpty(t, resp.NoAnswer.Reason)
	assert.NotEmpty(t, resp.NoAnswer.Suggestions)
	assert.Greater(t, resp.NoAnswer.SourcesChecked, 0)

	recs, err := st.ListQueryRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusNoGroundedAnswer, recs[0].Status)
}

func TestAskWithoutGroundingGate(t *testing.T) {
	gen := &stubGenerator{text: "Refunds take ninety days and require notarized forms."}
	orch, st := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, false)

	opts := DefaultAskOptions()
	opts.RequireGrounding = false
	resp, err := orch.Ask(context.Background(), "What is the refund window?", opts)
	require.NoError(t, err)

	// The same answer is refused with the gate on; without it the caller
	// gets the text plus its score and decides for themselves.
	require.NotNil(t, resp.Answer)
	assert.Nil(t, resp.NoAnswer)
	assert.Equal(t, domain.StatusAnswered, resp.Answer.Status)
	assert.Less(t, resp.Answer.GroundingScore, 0.7)
	assert.NotEmpty(t, resp.Verdicts)

	recs, err := st.ListQueryRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusAnswered, recs[0].Status)
}

func TestAskWithoutSources(t *testing.T) {
	gen := &stubGenerator{text: "The refund window is thirty days. [1]"}
	orch, _ := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, false)

	opts := DefaultAskOptions()
	opts.IncludeSources = false
	resp, err := orch.Ask(context.Background(), "What is the refund window?", opts)
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)
	assert.Equal(t, 1.0, resp.Answer.GroundingScore)
	assert.Empty(t, resp.Answer.Sources)
}

func TestAskNoCandidates(t *testing.T) {
	gen := &stubGenerator{text: "irrelevant"}
	orch, _ := newOrchestrator(t, &stubRetriever{}, gen, false)

	resp, err := orch.Ask(context.Background(), "Anything about dinosaurs?", DefaultAskOptions())
	require.NoError(t, err)
	require.NotNil(t, resp.NoAnswer)
	assert.Equal(t, 0, resp.NoAnswer.SourcesChecked)
	assert.NotEmpty(t, resp.NoAnswer.Suggestions)
}

func TestAskInvalidMarkerOnlyTaintsItsClaim(t *testing.T) {
	gen := &stubGenerator{text: "The refund window is thirty days. [1] Pigeons deliver the refunds. [9]"}
	orch, _ := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, false)

	resp, err := orch.Ask(context.Background(), "How do refunds work?", DefaultAskOptions())
	require.NoError(t, err)

	// Half grounded: below the 0.7 gate, so the answer is refused, but
	// the grounded half survives as partial info.
	require.NotNil(t, resp.NoAnswer)
	assert.Contains(t, resp.NoAnswer.PartialInfo, "refund window")

	require.Len(t, resp.Verdicts, 2)
	assert.Equal(t, domain.VerdictGrounded, resp.Verdicts[0].Kind)
	assert.Equal(t, domain.VerdictUngrounded, resp.Verdicts[1].Kind)
	assert.Equal(t, domain.ReasonInvalidCitation, resp.Verdicts[1].Reason)
}

func TestAskStreamingEmitsSentences(t *testing.T) {
	gen := &stubGenerator{text: "The refund window is thirty days. [1] Shipping takes two business days. [2]"}
	orch, _ := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, true)

	var streamed []string
	opts := DefaultAskOptions()
	opts.OnSentence = func(s string) { streamed = append(streamed, s) }
	resp, err := orch.Ask(context.Background(), "What is the refund window?", opts)
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)

	require.Len(t, streamed, 2)
	assert.Equal(t, "The refund window is thirty days. [1]", streamed[0])
	assert.Equal(t, "Shipping takes two business days. [2]", streamed[1])
	assert.Equal(t, gen.text, resp.Answer.Text)
}

func TestAskEmptyQuestion(t *testing.T) {
	orch, _ := newOrchestrator(t, &stubRetriever{}, &stubGenerator{}, false)
	_, err := orch.Ask(context.Background(), "   ", DefaultAskOptions())
	require.Error(t, err)
}

func TestAskExtractiveMode(t *testing.T) {
	// Verbatim quote passes in extractive mode.
	gen := &stubGenerator{text: "The refund window is thirty days from the purchase date. [1]"}
	orch, _ := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen, false)

	opts := DefaultAskOptions()
	opts.Extractive = true
	resp, err := orch.Ask(context.Background(), "What is the refund window?", opts)
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)
	assert.Equal(t, 1.0, resp.Answer.GroundingScore)

	// A paraphrase of the same fact is refused in extractive mode.
	gen2 := &stubGenerator{text: "You get thirty days to ask for a refund after purchase. [1]"}
	orch2, _ := newOrchestrator(t, &stubRetriever{candidates: policyCandidates()}, gen2, false)

	resp2, err := orch2.Ask(context.Background(), "What is the refund window?", opts)
	require.NoError(t, err)
	require.NotNil(t, resp2.NoAnswer)
}
