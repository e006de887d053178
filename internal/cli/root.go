package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"rlg/config"
	"rlg/internal/adapter/embedding"
	"rlg/internal/adapter/store"
	"rlg/internal/port"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	logger  *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rlg",
	Short: "Grounded document Q&A over a local corpus",
	Long: `rlg answers questions from a corpus of local documents and refuses to
answer when it cannot back every claim with a citation into that corpus.

Example usage:
  rlg ingest ./docs                  # Index documents
  rlg ask "What is the refund policy?"
  rlg stats                          # Corpus and query statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level, err := log.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = log.InfoLevel
		}
		logger = log.NewWithOptions(os.Stderr, log.Options{Level: level})
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rlg.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "corpus directory (default is current directory)")
}

// openStore opens the index database for the corpus directory.
func openStore() (*store.BoltStore, error) {
	if err := config.EnsureDataDir(rootDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(config.IndexDBPath(rootDir), cfg.Embedding.Dimension, cfg.Retrieve.K1, cfg.Retrieve.B)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	return st, nil
}

// buildEmbedder wires the configured embedding provider behind the cache.
func buildEmbedder() (port.Embedder, error) {
	e := cfg.Embedding

	var inner port.Embedder
	var err error
	switch e.Provider {
	case "openai":
		inner, err = embedding.NewOpenAI(e.APIKeyEnv, e.Model, e.Dimension, e.BatchSize)
	case "jina":
		inner, err = embedding.NewJina(e.APIKeyEnv, e.Model, e.Dimension, e.BatchSize)
	case "ollama":
		inner = embedding.NewOllama(e.Model, e.BaseURL, e.Dimension, e.BatchSize)
	default:
		err = fmt.Errorf("unknown embedding provider: %s", e.Provider)
	}
	if err != nil {
		return nil, err
	}

	return embedding.NewCachedEmbedder(inner, e.CacheSize, time.Duration(e.CacheTTLSeconds)*time.Second), nil
}
