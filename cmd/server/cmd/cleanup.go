package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	cleanupOlderThan time.Duration
	cleanupForce     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge talk history and stale password reset codes",
	Long: `Remove rows that are no longer needed.

Examples:
  # Delete history entries not accessed in 30 days
  server cleanup history --older-than 720h --force

  # Delete every history entry
  server cleanup history --force

  # Delete used and expired password reset codes
  server cleanup resets`,
}

var cleanupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Delete talk history entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupOlderThan < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}
		if !cleanupForce {
			return fmt.Errorf("refusing to delete history without --force")
		}

		return withApplication(func(ctx context.Context, app *application) error {
			deleted, err := app.history.Purge(ctx, cleanupOlderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d history entries\n", deleted)
			return nil
		})
	},
}

var cleanupResetsCmd = &cobra.Command{
	Use:   "resets",
	Short: "Delete used and expired password reset codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(func(ctx context.Context, app *application) error {
			deleted, err := app.users.PurgePasswordResets(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d reset codes\n", deleted)
			return nil
		})
	},
}

func init() {
	cleanupHistoryCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "only delete entries last accessed before this age (0 deletes all)")
	cleanupHistoryCmd.Flags().BoolVar(&cleanupForce, "force", false, "confirm deletion")

	cleanupCmd.AddCommand(cleanupHistoryCmd)
	cleanupCmd.AddCommand(cleanupResetsCmd)
}
