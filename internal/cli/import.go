package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/attribution"
	"github.com/tikcluster/tikwatch/internal/provider"
	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/types"
	"github.com/tikcluster/tikwatch/internal/utils"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a YAML dataset into Redis",
	Long: `Load usage, theses, users and the reservation feed from a YAML dataset
file into Redis.

The dataset is validated first. Reservation lines that cannot be decoded are
imported anyway and reported, so they show up as unparsed.

Use --force to replace data that is already stored (this also clears the
recorded check history).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := viper.GetString("import.file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		return runImport(cmd, file, viper.GetBool("import.force"))
	},
}

func init() {
	importCmd.Flags().StringP("file", "f", "", "Dataset file to import (required)")
	importCmd.Flags().Bool("force", false, "Replace existing data")
	if err := importCmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("Failed to mark file flag as required: %v", err))
	}

	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, file string, force bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ds, err := provider.LoadDataset(file)
	if err != nil {
		return err
	}
	if err := attribution.Validate(ds.Usage.Snapshots, ds.Theses); err != nil {
		return fmt.Errorf("refusing to import %s: %w", file, err)
	}

	client, err := openStore(ctx, getConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := provider.Import(ctx, client, ds, force); err != nil {
		return err
	}

	batch := reservation.DecodeLines(ds.Reservations)
	fmt.Fprintf(out, "Imported %d usage snapshots, %d theses, %d users and %d reservation lines\n",
		len(ds.Usage.Snapshots), len(ds.Theses), len(ds.Users), len(ds.Reservations))
	if summary := roleSummary(ds.Users); summary != "" {
		fmt.Fprintf(out, "Users by role: %s\n", summary)
	}
	for _, f := range batch.Failures {
		fmt.Fprintf(out, "%s %s\n", FormatWarning("unparsed:"), f.Error())
	}
	return nil
}

// roleSummary counts directory users per role, in order of first appearance
func roleSummary(users []types.UserInfo) string {
	var order []string
	counts := make(map[string]int)
	for _, u := range users {
		role := utils.Normalize(u.Role)
		if _, ok := counts[role]; !ok {
			order = append(order, role)
		}
		counts[role]++
	}

	parts := make([]string, 0, len(order))
	for _, role := range order {
		parts = append(parts, fmt.Sprintf("%s %d", FormatRole(role), counts[role]))
	}
	return strings.Join(parts, ", ")
}
