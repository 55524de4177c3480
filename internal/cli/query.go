package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"policyrag/internal/bootstrap"
	"policyrag/internal/domain"
)

var (
	queryText      string
	queryTopK      int
	queryThreshold float64
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Show the policy passages retrieved for a question",
	Long: `Embed a question and list the indexed passages that pass the relevance
threshold. No language model is called.

Examples:
  policyrag query -q "vacation days"
  policyrag query -q "expenses" --top-k 10 --threshold 0.3 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of candidates (default from config)")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "relevance threshold (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

type queryHit struct {
	ID         domain.EntryID `json:"id"`
	DocumentID string         `json:"document_id"`
	ChunkID    string         `json:"chunk_id"`
	SourcePath string         `json:"source_path"`
	Span       domain.Span    `json:"span"`
	Score      float64        `json:"score"`
	Text       string         `json:"text"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	a, err := bootstrap.New(cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Index.Count() == 0 {
		return fmt.Errorf("no index found. Run 'policyrag ingest' first")
	}

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}
	threshold := cfg.Retrieve.RelevanceThreshold
	if cmd.Flags().Changed("threshold") {
		threshold = queryThreshold
	}

	result, err := a.Retriever.Retrieve(context.Background(), queryText, topK, threshold)
	if err != nil {
		return err
	}

	hits := make([]queryHit, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		hits = append(hits, queryHit{
			ID:         c.Entry.ID,
			DocumentID: c.Entry.DocumentID,
			ChunkID:    c.Entry.ChunkID,
			SourcePath: c.Entry.SourcePath,
			Span:       c.Entry.Span,
			Score:      c.Score,
			Text:       c.Entry.Text,
		})
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"status":     result.Status,
			"candidates": result.Candidates,
			"results":    hits,
		})
	}

	fmt.Printf("Status: %s (%d candidates, %d relevant, metric %s)\n",
		result.Status, result.Candidates, len(hits), a.Index.Metric())
	for i, h := range hits {
		fmt.Printf("\n[%d] %s  score=%.4f  chars %d-%d\n", i+1, h.ChunkID, h.Score, h.Span.Start, h.Span.End)
		fmt.Println(strings.Repeat("-", 60))
		fmt.Println(strings.TrimSpace(h.Text))
	}
	return nil
}
