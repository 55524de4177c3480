package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"policyrag/internal/bootstrap"
)

var removeCmd = &cobra.Command{
	Use:   "remove <document-id>...",
	Short: "Remove documents from the index",
	Long: `Remove every chunk of the given documents from the index and save it.
Document ids are the file paths relative to the ingested directory, as shown
by 'policyrag query'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(GetConfig(), log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.Ingest.Remove(args)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Println("No matching documents in the index.")
		return nil
	}
	fmt.Printf("Removed %d entries. %d remain.\n", removed, a.Index.Count())
	return nil
}
