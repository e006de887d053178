package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rlg/internal/domain"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus and query statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

type statsOutput struct {
	Documents   int     `json:"documents"`
	Chunks      int     `json:"chunks"`
	AvgChunkLen float64 `json:"avg_chunk_tokens"`
	Queries     int     `json:"queries"`
	Answered    int     `json:"answered"`
	Refused     int     `json:"refused"`
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}

	records, err := st.ListQueryRecords()
	if err != nil {
		return err
	}

	out := statsOutput{
		Documents:   stats.TotalDocs,
		Chunks:      stats.TotalChunks,
		AvgChunkLen: stats.AvgChunkLen,
		Queries:     len(records),
	}
	for _, rec := range records {
		switch rec.Status {
		case domain.StatusAnswered:
			out.Answered++
		case domain.StatusNoGroundedAnswer:
			out.Refused++
		}
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Documents:  %d\n", out.Documents)
	fmt.Printf("Chunks:     %d (avg %.0f tokens)\n", out.Chunks, out.AvgChunkLen)
	fmt.Printf("Queries:    %d (%d answered, %d refused)\n", out.Queries, out.Answered, out.Refused)

	docs, err := st.ListDocuments()
	if err != nil {
		return err
	}
	if len(docs) > 0 && !statsJSON {
		fmt.Println("\nDocuments:")
		for _, doc := range docs {
			fmt.Printf("  %-30s %-10s reliability=%.1f chunks=%d\n", doc.Name, doc.Status, doc.Reliability, doc.ChunkCount)
		}
	}
	return nil
}
