package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [person-id]",
	Short: "Show attendance sessions",
	Long: `Show attendance sessions, newest entry first.

Without a person id the sessions of everyone are listed.

Examples:
  face-attendance sessions
  face-attendance sessions 001 --limit 10
  face-attendance sessions --limit 0 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)

	sessionsCmd.Flags().Int("limit", constants.DefaultSessionLimit, "Maximum number of sessions (0 = all)")
	sessionsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSessions(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")
	if limit < 0 {
		return fmt.Errorf("--limit must not be negative, got %d", limit)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var sessions []database.Session
	if len(args) == 1 {
		personID := args[0]
		if _, ok := eng.gallery.Get(personID); !ok {
			return fmt.Errorf("identity %s not found", personID)
		}
		sessions, err = eng.ledger.History(ctx, personID, limit)
	} else {
		sessions, err = eng.ledger.List(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if jsonOutput {
		return outputJSON(sessionRecords(sessions))
	}
	printSessions(sessions)
	return nil
}
