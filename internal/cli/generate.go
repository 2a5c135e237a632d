package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/utils"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a reservation line for the calendar",
	Long: `Generate a correctly formatted reservation line to paste into the
reservation calendar.

Use --wildcard to announce that you may exceed the default quota without
holding a specific machine (resource tikgpuX).

Examples:
  tikwatch generate --count 8 --resource tikgpu10 --comment "ICML deadline"
  tikwatch generate --user alice --count 12 --wildcard
  tikwatch generate --count 2 --resource tikgpu01 --append`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringP("user", "u", "", "Reservation owner (defaults to the current user)")
	generateCmd.Flags().IntP("count", "n", 0, "Number of GPUs to reserve (required)")
	generateCmd.Flags().StringP("resource", "r", "", "Machine to reserve, e.g. tikgpu10")
	generateCmd.Flags().Bool("wildcard", false, "Announce usage beyond the quota instead of reserving a machine")
	generateCmd.Flags().StringP("comment", "c", "", "Optional comment")
	generateCmd.Flags().Bool("append", false, "Also append the line to the reservation feed in Redis")
	if err := generateCmd.MarkFlagRequired("count"); err != nil {
		panic(fmt.Sprintf("Failed to mark count flag as required: %v", err))
	}

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	user := viper.GetString("generate.user")
	if user == "" {
		user = getCurrentUser()
	}

	resource, err := resolveResource(viper.GetString("generate.resource"), viper.GetBool("generate.wildcard"))
	if err != nil {
		return err
	}

	line, err := reservation.Encode(user, viper.GetInt("generate.count"), resource, viper.GetString("generate.comment"))
	if err != nil {
		return err
	}

	if viper.GetBool("generate.append") {
		ctx := cmd.Context()
		client, err := openStore(ctx, getConfig())
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.AppendReservationLine(ctx, line); err != nil {
			return fmt.Errorf("failed to append reservation: %w", err)
		}
		getLogger().WithField("line", line).Info("Appended reservation to feed")
	}

	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}

// resolveResource picks the resource name from --resource and --wildcard
func resolveResource(resource string, wildcard bool) (string, error) {
	if !wildcard {
		if resource == "" {
			return "", fmt.Errorf("either --resource or --wildcard is required")
		}
		return resource, nil
	}
	if resource != "" && !utils.EqualFold(resource, reservation.WildcardResource) {
		return "", fmt.Errorf("--wildcard cannot be combined with --resource %s", resource)
	}
	return reservation.WildcardResource, nil
}
