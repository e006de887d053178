package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/adapter/llm"
	"rlg/internal/adapter/retriever"
	"rlg/internal/usecase"
)

var (
	askTopK             int
	askMinReliability   float64
	askExtractive       bool
	askRequireGrounding bool
	askSources          bool
	askJSON             bool
	askNoStream         bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the indexed corpus",
	Long: `Retrieve relevant excerpts, generate an answer and verify every claim
against the sources it cites. Answers that cannot be verified are refused
with a structured explanation instead.

Examples:
  rlg ask "What is the refund window?"
  rlg ask "Who approved the Q3 budget?" --extractive --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().Float64Var(&askMinReliability, "min-reliability", -1, "minimum document reliability (default from config)")
	askCmd.Flags().BoolVar(&askExtractive, "extractive", false, "require verbatim quotes from the sources")
	askCmd.Flags().BoolVar(&askRequireGrounding, "require-grounding", true, "refuse answers below the grounding threshold (--require-grounding=false returns them with their score)")
	askCmd.Flags().BoolVar(&askSources, "sources", true, "attach source attributions to the answer")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "wait for the full answer instead of streaming")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := buildEmbedder()
	if err != nil {
		return err
	}

	tokenizer := analyzer.NewTokenizer()
	fuser := retriever.NewFuser(st, embedder, tokenizer, retriever.Weights{
		BM25:       cfg.Retrieve.BM25Weight,
		Dense:      cfg.Retrieve.DenseWeight,
		Structural: cfg.Retrieve.StructuralWeight,
	}, cfg.Retrieve.OverfetchFactor)

	assembler := usecase.NewAssembler(st, tokenizer, cfg.Context.TokenBudget, cfg.Context.Window)
	validator := usecase.NewValidator(embedder, tokenizer, cfg.Grounding.LowerSimilarity, cfg.Grounding.UpperSimilarity)
	generator := llm.NewOllama(
		cfg.Generation.BaseURL,
		cfg.Generation.Model,
		cfg.Generation.Temperature,
		cfg.Generation.MaxTokens,
		time.Duration(cfg.Generation.TimeoutSeconds)*time.Second,
		cfg.Generation.MaxRetries,
	)

	stream := cfg.Generation.Stream && !askNoStream && !askJSON
	orch := usecase.NewOrchestrator(
		fuser, assembler, generator, validator, st, logger,
		cfg.Retrieve.TopK,
		cfg.Retrieve.MinReliability,
		cfg.Grounding.MinConfidence,
		time.Duration(cfg.Retrieve.TimeoutSeconds+cfg.Generation.TimeoutSeconds)*time.Second,
		stream,
	)

	opts := usecase.DefaultAskOptions()
	opts.TopK = askTopK
	opts.MinReliability = askMinReliability
	opts.Extractive = askExtractive || cfg.Grounding.Extractive
	opts.RequireGrounding = askRequireGrounding
	opts.IncludeSources = askSources
	if stream {
		opts.OnSentence = func(sentence string) {
			fmt.Fprintln(os.Stderr, sentence)
		}
	}

	resp, err := orch.Ask(cmd.Context(), question, opts)
	if err != nil {
		return err
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if resp.Answer != nil {
			return enc.Encode(resp.Answer)
		}
		return enc.Encode(resp.NoAnswer)
	}

	if resp.Answer != nil {
		fmt.Println(resp.Answer.Text)
		fmt.Printf("\nGrounding: %.0f%%\n", resp.Answer.GroundingScore*100)
		if len(resp.Answer.Sources) > 0 {
			fmt.Println("Sources:")
			for _, s := range resp.Answer.Sources {
				loc := s.DocumentName
				if s.Page > 0 {
					loc = fmt.Sprintf("%s p.%d", loc, s.Page)
				}
				if s.Section != "" {
					loc = fmt.Sprintf("%s (%s)", loc, s.Section)
				}
				fmt.Printf("  [%d] %s\n", s.Marker, loc)
			}
		}
		return nil
	}

	fmt.Printf("No grounded answer: %s\n", resp.NoAnswer.Reason)
	if resp.NoAnswer.PartialInfo != "" {
		fmt.Printf("\nVerified so far: %s\n", resp.NoAnswer.PartialInfo)
	}
	if len(resp.NoAnswer.Suggestions) > 0 {
		fmt.Println("\nSuggestions:")
		for _, s := range resp.NoAnswer.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	fmt.Printf("\nSources checked: %d\n", resp.NoAnswer.SourcesChecked)
	return nil
}
