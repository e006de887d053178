package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"rlg/internal/adapter/analyzer"
	"rlg/internal/adapter/chunker"
	"rlg/internal/adapter/fs"
	"rlg/internal/adapter/parser"
	"rlg/internal/usecase"
)

var ingestReliability float64

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest documents into the index",
	Long: `Parse, chunk, embed and index documents so they can back answers.
The index is stored in .rlg/index.db within the corpus directory.

Examples:
  rlg ingest ./docs                     # Ingest a directory
  rlg ingest policy.md                  # Ingest a single file
  rlg ingest drafts/ --reliability 0.4  # Low-trust sources`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Float64Var(&ingestReliability, "reliability", 1.0, "trust weight for these documents, in [0,1]")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := rootDir
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

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
	chk := chunker.NewStructureChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.MinBlock, tokenizer)
	ingestor := usecase.NewIngestor(parser.NewTextParser(), chk, embedder, st, logger)

	var paths []string
	if info.IsDir() {
		walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
		files, err := walker.Walk(path)
		if err != nil {
			return fmt.Errorf("scan %s: %w", path, err)
		}
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	} else {
		paths = []string{path}
	}

	if len(paths) == 0 {
		fmt.Println("No matching documents found.")
		return nil
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var indexed, skipped, failed int
	for _, p := range paths {
		res, err := ingestor.IngestFile(cmd.Context(), p, ingestReliability)
		switch {
		case err != nil:
			failed++
			logger.Error("ingest failed", "file", p, "err", err)
		case res.Skipped:
			skipped++
		default:
			indexed++
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("Indexed %d document(s), %d unchanged, %d failed.\n", indexed, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed to ingest", failed)
	}
	return nil
}
