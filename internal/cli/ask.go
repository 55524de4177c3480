package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"policyrag/internal/bootstrap"
	"policyrag/internal/domain"
)

var (
	askQuestion string
	askSession  string
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a policy question",
	Long: `Retrieve the relevant policy passages and have the language model answer
from them. The turn is stored in the session's conversation history.

Examples:
  policyrag ask -q "Do I need approval to work remotely?"
  policyrag ask -q "And for a week abroad?" --session alice`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "query", "q", "", "question (required)")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "cli", "conversation session id")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("query")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(GetConfig(), log, bootstrap.Options{WithGenerator: true})
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.Answers.Answer(context.Background(), domain.Query{
		Text:      askQuestion,
		SessionID: askSession,
	})
	if err != nil {
		return err
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range answer.Sources {
			fmt.Printf("  - %s\n", s)
		}
	}
	return nil
}
