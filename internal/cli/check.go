package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/monitor"
	"github.com/tikcluster/tikwatch/internal/redis_client"
	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check reservation activity and usage thresholds",
	Long: `Check whether hard reservations are actually used and whether any user
exceeds the GPU-hour or IO thresholds without a covering reservation.

A reservation is active when its owner uses at least thresholds.activity of
every reserved machine. With --record, results are stored in Redis for the
report command.

Examples:
  tikwatch check
  tikwatch check --json
  tikwatch check --record`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	checkCmd.Flags().Bool("record", false, "Store activity results and alerts in Redis")
	rootCmd.AddCommand(checkCmd)
}

// checkOutput is the JSON shape of the check command
type checkOutput struct {
	Activity []reservation.Activity `json:"activity"`
	Alerts   []monitor.UsageAlert   `json:"alerts"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := getConfig()

	source, err := openSource(ctx, config)
	if err != nil {
		return err
	}
	defer closeSource(source)

	dashboard, err := monitor.Build(ctx, source, monitorOptions(config, false))
	if err != nil {
		return fmt.Errorf("failed to build dashboard: %w", err)
	}

	if viper.GetBool("check.record") {
		client, err := openStore(ctx, config)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := recordCheck(ctx, client, dashboard); err != nil {
			return err
		}
	}

	if viper.GetBool("check.json") {
		return writeJSON(cmd.OutOrStdout(), checkOutput{Activity: dashboard.Activity, Alerts: dashboard.Alerts})
	}
	renderCheck(cmd.OutOrStdout(), dashboard, config.Thresholds)
	return nil
}

// recordCheck stores activity results and alerts of one check run
func recordCheck(ctx context.Context, client *redis_client.Client, dashboard *monitor.Dashboard) error {
	for _, record := range dashboard.ActivityRecords() {
		if err := client.RecordReservationActivity(ctx, record); err != nil {
			return fmt.Errorf("failed to record reservation activity: %w", err)
		}
	}
	for i := range dashboard.Alerts {
		if err := client.RecordUsageAlert(ctx, &dashboard.Alerts[i]); err != nil {
			return fmt.Errorf("failed to record usage alert: %w", err)
		}
	}

	getLogger().WithFields(logrus.Fields{
		"activity": len(dashboard.Activity),
		"alerts":   len(dashboard.Alerts),
	}).Info("Recorded check results")
	return nil
}

func renderCheck(w io.Writer, dashboard *monitor.Dashboard, thresholds types.Thresholds) {
	if len(dashboard.Activity) == 0 {
		fmt.Fprintln(w, "No hard reservations to check.")
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.Style().Options.SeparateRows = false
		t.Style().Options.DrawBorder = false

		t.AppendHeader(table.Row{
			FormatHeader("USER"),
			FormatHeader("RESOURCE"),
			FormatHeader("RESERVED"),
			FormatHeader("IN USE"),
			FormatHeader("USAGE"),
			FormatHeader("STATUS"),
		})
		for _, a := range dashboard.Activity {
			for i, r := range a.Resources {
				user, status := "", ""
				if i == 0 {
					user = a.Username
					status = FormatActivity(a.Active)
				}
				t.AppendRow(table.Row{
					user,
					r.Resource,
					r.Reserved,
					fmt.Sprintf("%.1f", r.Actual),
					FormatPercentage(r.Percentage, thresholds.Activity),
					status,
				})
			}
			if len(a.Resources) > 0 && !a.Active && len(a.HostsUsed) > 0 {
				t.AppendRow(table.Row{"", FormatDim("running on: " + strings.Join(a.HostsUsed, ", ")), "", "", "", ""})
			}
		}

		fmt.Fprintln(w)
		t.Render()
	}

	if len(dashboard.Alerts) == 0 {
		fmt.Fprintf(w, "\n%s\n", colorActive.Sprint("No usage alerts."))
		return
	}

	fmt.Fprintf(w, "\n%s\n", FormatWarning(fmt.Sprintf("%d usage alerts:", len(dashboard.Alerts))))
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.AppendHeader(table.Row{FormatHeader("USER"), FormatHeader("ALERT"), FormatHeader("DETAILS")})
	for _, a := range dashboard.Alerts {
		t.AppendRow(table.Row{a.Username, FormatAlertKind(a.Kind), a.Message})
	}
	t.Render()
}
