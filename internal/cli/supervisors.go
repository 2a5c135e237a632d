package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/attribution"
	"github.com/tikcluster/tikwatch/internal/monitor"
	"github.com/tikcluster/tikwatch/internal/types"
	"github.com/tikcluster/tikwatch/internal/utils"
)

// maxListedUsers caps the user column of the supervisors table
const maxListedUsers = 5

var supervisorsCmd = &cobra.Command{
	Use:   "supervisors",
	Short: "Show current usage per supervisor group",
	Long: `Show how much of the cluster each supervisor's group is using right now.

A thesis student's usage is split evenly across their supervisors. Supervisors
keep their own usage. Users without a thesis are grouped under "no supervisor",
except staff, who are left out.

Examples:
  tikwatch supervisors
  tikwatch supervisors --json
  tikwatch supervisors --theses
  tikwatch --source file --data-file cluster.yaml supervisors`,
	RunE: runSupervisors,
}

func init() {
	supervisorsCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	supervisorsCmd.Flags().Bool("theses", false, "Also list all theses")
	rootCmd.AddCommand(supervisorsCmd)
}

func runSupervisors(cmd *cobra.Command, args []string) error {
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

	if viper.GetBool("supervisors.json") {
		return writeJSON(cmd.OutOrStdout(), newSupervisorsOutput(dashboard))
	}
	renderSupervisors(cmd.OutOrStdout(), dashboard)
	if viper.GetBool("supervisors.theses") {
		renderTheses(cmd.OutOrStdout(), dashboard.Theses)
	}
	return nil
}

// supervisorsOutput is the JSON shape of the supervisors command and endpoint
type supervisorsOutput struct {
	Supervisors        []attribution.Row `json:"supervisors"`
	UsersWithoutTheses []string          `json:"users_without_theses"`
}

func newSupervisorsOutput(dashboard *monitor.Dashboard) supervisorsOutput {
	return supervisorsOutput{
		Supervisors:        dashboard.Supervisors,
		UsersWithoutTheses: dashboard.UsersWithoutTheses,
	}
}

func renderSupervisors(w io.Writer, dashboard *monitor.Dashboard) {
	if len(dashboard.Supervisors) == 0 {
		fmt.Fprintln(w, "No attributed usage.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.Style().Options.DrawBorder = false

	t.AppendHeader(table.Row{
		FormatHeader("SUPERVISOR"),
		FormatHeader("CPUS"),
		FormatHeader("MEMORY (GB)"),
		FormatHeader("GPUS"),
		FormatHeader("GPU HOURS"),
		FormatHeader("USERS"),
	})

	var total attribution.Row
	for _, row := range dashboard.Supervisors {
		t.AppendRow(table.Row{
			FormatSupervisor(row.Supervisor),
			FormatMetric(row.CPUs, 1),
			FormatMetric(row.MemoryGB, 1),
			FormatMetric(row.GPUs, 1),
			FormatMetric(row.GPUHours, 2),
			utils.FormatUserList(row.Users, maxListedUsers),
		})
		total.CPUs += row.CPUs
		total.MemoryGB += row.MemoryGB
		total.GPUs += row.GPUs
		total.GPUHours += row.GPUHours
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%.1f", total.CPUs),
		fmt.Sprintf("%.1f", total.MemoryGB),
		fmt.Sprintf("%.1f", total.GPUs),
		fmt.Sprintf("%.2f", total.GPUHours),
		"",
	})

	fmt.Fprintln(w)
	t.Render()
	if len(dashboard.UsersWithoutTheses) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", FormatWarning("Active users without a thesis:"),
			strings.Join(dashboard.UsersWithoutTheses, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", FormatDim(fmt.Sprintf("Usage as of %s (%s)",
		dashboard.UsageTimestamp.Format("2006-01-02 15:04:05"), utils.FormatTimeAgo(dashboard.UsageTimestamp))))
}

func renderTheses(w io.Writer, theses []types.ThesisRecord) {
	if len(theses) == 0 {
		fmt.Fprintln(w, "No theses.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false

	t.AppendHeader(table.Row{
		FormatHeader("TITLE"),
		FormatHeader("SEMESTER"),
		FormatHeader("STUDENTS"),
		FormatHeader("SUPERVISORS"),
	})
	for _, thesis := range theses {
		supervisors := FormatDim("-")
		if len(thesis.Supervisors) > 0 {
			supervisors = strings.Join(thesis.Supervisors, ", ")
		}
		t.AppendRow(table.Row{
			utils.TruncateString(thesis.Title, 50),
			thesis.Semester,
			utils.FormatUserList(thesis.Students, maxListedUsers),
			supervisors,
		})
	}

	fmt.Fprintln(w)
	t.Render()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
