package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize recorded alerts and reservation activity",
	Long: `Summarize the usage alerts and reservation activity results recorded by
'tikwatch check --record' over the last days, per user.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntP("days", "d", 30, "Number of days to include in the report")
	reportCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.AddCommand(reportCmd)
}

// userReport aggregates recorded history for one user
type userReport struct {
	Username       string `json:"username"`
	GPUHourAlerts  int    `json:"gpu_hour_alerts"`
	IOAlerts       int    `json:"io_alerts"`
	ActivityChecks int    `json:"activity_checks"`
	InactiveChecks int    `json:"inactive_checks"`
	LastAlert      string `json:"last_alert,omitempty"`

	lastAlertTime time.Time
	alertCount    int
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	client, err := openStore(ctx, getConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	days := viper.GetInt("report.days")
	if days <= 0 {
		return fmt.Errorf("--days must be greater than 0")
	}

	// Calculate time range
	endTime := time.Now()
	startTime := endTime.AddDate(0, 0, -days)

	alerts, err := client.GetUsageAlerts(ctx, startTime, endTime)
	if err != nil {
		return fmt.Errorf("failed to get usage alerts: %w", err)
	}
	activity, err := client.GetReservationActivity(ctx, startTime, endTime)
	if err != nil {
		return fmt.Errorf("failed to get reservation activity: %w", err)
	}

	reports := aggregateHistory(alerts, activity)
	if viper.GetBool("report.json") {
		return writeJSON(cmd.OutOrStdout(), reports)
	}
	displayReport(cmd.OutOrStdout(), reports, startTime, endTime, days)
	return nil
}

// aggregateHistory folds alerts and activity records into per-user rows,
// sorted by number of alerts, then inactive checks
func aggregateHistory(alerts []*types.UsageAlert, activity []*types.ActivityRecord) []userReport {
	byUser := make(map[string]*userReport)
	get := func(username string) *userReport {
		r, ok := byUser[username]
		if !ok {
			r = &userReport{Username: username}
			byUser[username] = r
		}
		return r
	}

	for _, a := range alerts {
		r := get(a.Username)
		switch a.Kind {
		case types.AlertKindGPUHours:
			r.GPUHourAlerts++
		case types.AlertKindIO:
			r.IOAlerts++
		}
		r.alertCount++
		if t := a.Timestamp.ToTime(); t.After(r.lastAlertTime) {
			r.lastAlertTime = t
			r.LastAlert = t.Format(time.RFC3339)
		}
	}
	for _, rec := range activity {
		r := get(rec.Username)
		r.ActivityChecks++
		if !rec.Active {
			r.InactiveChecks++
		}
	}

	reports := make([]userReport, 0, len(byUser))
	for _, r := range byUser {
		reports = append(reports, *r)
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].alertCount != reports[j].alertCount {
			return reports[i].alertCount > reports[j].alertCount
		}
		if reports[i].InactiveChecks != reports[j].InactiveChecks {
			return reports[i].InactiveChecks > reports[j].InactiveChecks
		}
		return reports[i].Username < reports[j].Username
	})
	return reports
}

func displayReport(w io.Writer, reports []userReport, startTime, endTime time.Time, days int) {
	fmt.Fprintf(w, "\n=== Usage Alert Report ===\n")
	fmt.Fprintf(w, "Period: %s to %s (%d days)\n\n",
		startTime.Format("2006-01-02"),
		endTime.Format("2006-01-02"),
		days)

	if len(reports) == 0 {
		fmt.Fprintln(w, "Nothing recorded in this period.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false

	t.AppendHeader(table.Row{
		FormatHeader("USER"),
		FormatHeader("GPU HOUR ALERTS"),
		FormatHeader("IO ALERTS"),
		FormatHeader("INACTIVE / CHECKS"),
		FormatHeader("LAST ALERT"),
	})

	var gpuAlerts, ioAlerts, inactive, checks int
	for _, r := range reports {
		last := FormatDim("-")
		if !r.lastAlertTime.IsZero() {
			last = r.lastAlertTime.Local().Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{
			r.Username,
			r.GPUHourAlerts,
			r.IOAlerts,
			fmt.Sprintf("%d / %d", r.InactiveChecks, r.ActivityChecks),
			last,
		})
		gpuAlerts += r.GPUHourAlerts
		ioAlerts += r.IOAlerts
		inactive += r.InactiveChecks
		checks += r.ActivityChecks
	}
	t.AppendFooter(table.Row{"TOTAL", gpuAlerts, ioAlerts, fmt.Sprintf("%d / %d", inactive, checks), ""})

	t.Render()
	fmt.Fprintf(w, "\nUnique users: %d\n\n", len(reports))
}
