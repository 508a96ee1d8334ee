package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
	"github.com/spf13/cobra"
)

var (
	notifyTitle string
	notifyBody  string
)

// notifyCmd is CLI only: over HTTP any signed-in user could broadcast.
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Broadcast a push notification to every subscribed device",
	Long: `Publish one notification to the SNS topic every registered device is
subscribed to.

Example:
  server notify --title "Heat advisory" --body "Hydrate every 20 minutes"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if notifyTitle == "" || notifyBody == "" {
			return errors.New("--title and --body are required")
		}

		return withApplication(func(ctx context.Context, app *application) error {
			messageID, err := app.devices.Broadcast(ctx, notifyTitle, notifyBody)
			if errors.Is(err, devices.ErrPushDisabled) {
				return errors.New("push is not configured: set SNS_PLATFORM_APPLICATION_ARN and SNS_TOPIC_ARN")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published message %s\n", messageID)
			return nil
		})
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyTitle, "title", "", "notification title")
	notifyCmd.Flags().StringVar(&notifyBody, "body", "", "notification body")
}
