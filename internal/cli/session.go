package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"policyrag/internal/bootstrap"
)

var sessionID string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a session's conversation history",
	RunE:  runHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget a session's conversation history",
	RunE:  runClear,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with stored history",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(historyCmd, clearCmd, sessionsCmd)
	for _, c := range []*cobra.Command{historyCmd, clearCmd} {
		c.Flags().StringVarP(&sessionID, "session", "s", "cli", "conversation session id")
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(GetConfig(), log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	turns, err := a.Memory.History(context.Background(), sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Printf("No history for session %q.\n", sessionID)
		return nil
	}

	for _, t := range turns {
		marker := ""
		if t.Fallback {
			marker = " (fallback)"
		}
		fmt.Printf("[%s]%s\n", t.Timestamp.Local().Format("2006-01-02 15:04:05"), marker)
		fmt.Printf("  Q: %s\n", t.Question)
		fmt.Printf("  A: %s\n\n", t.Answer)
	}
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(GetConfig(), log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Memory.Clear(context.Background(), sessionID); err != nil {
		return err
	}
	fmt.Printf("Cleared session %q.\n", sessionID)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(GetConfig(), log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.Memory.Sessions()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
