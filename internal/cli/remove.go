package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rlg/internal/usecase"
)

var removeCmd = &cobra.Command{
	Use:   "remove <document>",
	Short: "Remove a document from the index",
	Long: `Delete a document and everything derived from it. Chunks, postings and
vectors disappear together; later answers can no longer cite it.

The document may be addressed by ID, file name or path.

Examples:
  rlg remove policy.md
  rlg remove 5f3c9b1e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ingestor := usecase.NewIngestor(nil, nil, nil, st, logger)
	doc, err := ingestor.Remove(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Removed %s (%d chunks).\n", doc.Name, doc.ChunkCount)
	return nil
}
