package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"policyrag/internal/adapter/store"
	"policyrag/internal/bootstrap"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	a, err := bootstrap.New(cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.Index.Stats()
	sessions, err := a.Memory.Sessions()
	if err != nil {
		return err
	}

	fmt.Printf("Index:        %s\n", store.VectorPath(cfg.Index.Path))
	fmt.Printf("  Saved:      %v\n", store.IndexExists(cfg.Index.Path))
	fmt.Printf("  Entries:    %d\n", stats.Entries)
	fmt.Printf("  Documents:  %d\n", stats.Documents)
	fmt.Printf("  Dimension:  %d\n", stats.Dimension)
	fmt.Printf("  Metric:     %s\n", stats.Metric)
	fmt.Printf("  Model:      %s\n", stats.Model)
	fmt.Printf("  Next id:    %d\n", a.Index.NextID())
	fmt.Printf("Sessions:     %d\n", len(sessions))
	return nil
}
