package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/m0rphlin/operetta/internal/observability"
)

var (
	sessionAccountID  string
	sessionScenarioID string
	sessionListLimit  int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, cancel and inspect automation sessions.",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session for an account and enqueue it for execution.",
	RunE: func(cmd *cobra.Command, args []string) error {
		components, err := componentFactory.Create(cmd.Context(), loadedConfig, observability.GetLogger())
		if err != nil {
			return err
		}
		defer components.Shutdown()

		session, err := components.Orchestrator.CreateSession(cmd.Context(), sessionAccountID, sessionScenarioID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), session.ID)
		return nil
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Request graceful cancellation of a session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		components, err := componentFactory.Create(cmd.Context(), loadedConfig, observability.GetLogger())
		if err != nil {
			return err
		}
		defer components.Shutdown()

		if err := components.Orchestrator.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent sessions for an account.",
	RunE: func(cmd *cobra.Command, args []string) error {
		components, err := componentFactory.Create(cmd.Context(), loadedConfig, observability.GetLogger())
		if err != nil {
			return err
		}
		defer components.Shutdown()

		sessions, err := components.Store.ListSessions(cmd.Context(), sessionAccountID, sessionListLimit)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s  started=%s  duration=%ds  actions=%d\n",
				s.ID, s.Status, s.StartedAt.Format(time.RFC3339), s.DurationSeconds, s.ActionCount)
		}
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionAccountID, "account", "", "account ID to run the session for")
	sessionCreateCmd.Flags().StringVar(&sessionScenarioID, "scenario", "", "scenario ID (defaults to the platform's first scenario)")
	sessionCreateCmd.MarkFlagRequired("account")

	sessionListCmd.Flags().StringVar(&sessionAccountID, "account", "", "account ID to list sessions for")
	sessionListCmd.Flags().IntVar(&sessionListLimit, "limit", 10, "maximum sessions to list")
	sessionListCmd.MarkFlagRequired("account")

	sessionCmd.AddCommand(sessionCreateCmd, sessionCancelCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}
