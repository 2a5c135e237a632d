package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/monitor"
	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/utils"
)

var reservationsCmd = &cobra.Command{
	Use:   "reservations",
	Short: "Show decoded reservations and unparsed calendar lines",
	Long: `Decode the reservation feed and show hard reservations, tikgpuX
announcements, and every line that could not be decoded.

Hard reservations are exclusive holds on named machines. Announcements only
say that a user may exceed the default quota.

With --strict, lines by users missing from the user directory and lines naming
unknown machines are reported as unparsed.

Examples:
  tikwatch reservations
  tikwatch reservations --strict
  tikwatch reservations --json`,
	RunE: runReservations,
}

func init() {
	reservationsCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	reservationsCmd.Flags().Bool("strict", false, "Reject unknown users and resources")
	rootCmd.AddCommand(reservationsCmd)
}

// reservationsOutput is the JSON shape of the reservations command
type reservationsOutput struct {
	HardReservations []reservation.Event        `json:"hard_reservations"`
	Announcements    []reservation.Event        `json:"announcements"`
	Unparsed         []reservation.ParseFailure `json:"unparsed"`
}

func runReservations(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := getConfig()

	source, err := openSource(ctx, config)
	if err != nil {
		return err
	}
	defer closeSource(source)

	dashboard, err := monitor.Build(ctx, source, monitorOptions(config, viper.GetBool("reservations.strict")))
	if err != nil {
		return fmt.Errorf("failed to build dashboard: %w", err)
	}

	if viper.GetBool("reservations.json") {
		return writeJSON(cmd.OutOrStdout(), reservationsOutput{
			HardReservations: dashboard.Reservations.HardReservations,
			Announcements:    dashboard.Reservations.Announcements,
			Unparsed:         dashboard.Unparsed,
		})
	}
	renderReservations(cmd.OutOrStdout(), dashboard.Reservations, dashboard.Unparsed)
	return nil
}

func renderReservations(w io.Writer, c reservation.Classification, unparsed []reservation.ParseFailure) {
	events := append(append([]reservation.Event{}, c.HardReservations...), c.Announcements...)

	if len(events) == 0 {
		fmt.Fprintln(w, "No reservations.")
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.Style().Options.SeparateRows = false
		t.Style().Options.DrawBorder = false

		t.AppendHeader(table.Row{
			FormatHeader("KIND"),
			FormatHeader("USER"),
			FormatHeader("RESOURCES"),
			FormatHeader("GPUS"),
			FormatHeader("COMMENT"),
		})
		for _, e := range events {
			t.AppendRow(table.Row{
				FormatKind(e.IsWildcard),
				e.Username,
				formatResources(e.Resources),
				e.TotalCount(),
				utils.TruncateString(e.Comment, 40),
			})
		}

		fmt.Fprintln(w)
		t.Render()
		fmt.Fprintf(w, "\n%d hard reservations, %d announcements\n", len(c.HardReservations), len(c.Announcements))
	}

	if len(unparsed) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s\n", FormatWarning(fmt.Sprintf("%d unparsed lines:", len(unparsed))))
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.AppendHeader(table.Row{FormatHeader("LINE"), FormatHeader("REASON")})
	for _, f := range unparsed {
		t.AppendRow(table.Row{f.OriginalText, FormatWarning(f.Reason)})
	}
	t.Render()
}

func formatResources(resources []reservation.Resource) string {
	items := make([]string, len(resources))
	for i, r := range resources {
		items[i] = r.String()
	}
	return strings.Join(items, ", ")
}
