package cli

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/tikcluster/tikwatch/internal/attribution"
	"github.com/tikcluster/tikwatch/internal/types"
	"github.com/tikcluster/tikwatch/internal/utils"
)

var (
	// Status colors
	colorActive   = color.New(color.FgGreen, color.Bold)
	colorInactive = color.New(color.FgYellow, color.Bold)
	colorError    = color.New(color.FgRed, color.Bold)

	// Reservation kinds
	colorHard         = color.New(color.FgBlue, color.Bold)
	colorAnnouncement = color.New(color.FgMagenta)

	// Role badges
	colorStaff   = color.New(color.FgCyan)
	colorStudent = color.New(color.FgGreen)
	colorGuest   = color.New(color.FgYellow)

	// UI element colors
	colorHeader     = color.New(color.FgCyan, color.Bold)
	colorSupervisor = color.New(color.FgMagenta, color.Bold)
	colorMetric     = color.New(color.FgWhite, color.Bold)
	colorDim        = color.New(color.Faint)
	colorWarning    = color.New(color.FgYellow)
)

// SetNoColor enables or disables color output
func SetNoColor(value bool) {
	color.NoColor = value
}

// FormatHeader returns a colored header string
func FormatHeader(text string) string {
	return colorHeader.Sprint(text)
}

// FormatSupervisor returns a colored supervisor key
func FormatSupervisor(key string) string {
	if key == attribution.NoSupervisor {
		return colorDim.Sprint("(no supervisor)")
	}
	return colorSupervisor.Sprint(key)
}

// FormatMetric returns a colored metric with the given precision
func FormatMetric(value float64, places int) string {
	return colorMetric.Sprintf("%.*f", places, value)
}

// FormatDim returns dimmed text
func FormatDim(text string) string {
	return colorDim.Sprint(text)
}

// FormatWarning returns text in the warning color
func FormatWarning(text string) string {
	return colorWarning.Sprint(text)
}

// FormatRole returns a role badge; unknown roles are shown verbatim
func FormatRole(role string) string {
	switch utils.Normalize(role) {
	case "staff":
		return colorStaff.Sprint("staff")
	case "stud", "ueb":
		return colorStudent.Sprint(utils.Normalize(role))
	case "guest":
		return colorGuest.Sprint("guest")
	case "":
		return colorDim.Sprint("-")
	default:
		return role
	}
}

// FormatKind labels a reservation as hard or announcement
func FormatKind(isWildcard bool) string {
	if isWildcard {
		return colorAnnouncement.Sprint("ANNOUNCEMENT")
	}
	return colorHard.Sprint("RESERVED")
}

// FormatActivity returns a colored activity status
func FormatActivity(active bool) string {
	if active {
		return colorActive.Sprint("● ACTIVE")
	}
	return colorInactive.Sprint("⚠ INACTIVE")
}

// FormatAlertKind returns a colored alert kind
func FormatAlertKind(kind string) string {
	switch kind {
	case types.AlertKindGPUHours:
		return colorError.Sprint("GPU HOURS")
	case types.AlertKindIO:
		return colorError.Sprint("IO")
	default:
		return kind
	}
}

// FormatPercentage colors a utilization percentage against the activity threshold
func FormatPercentage(percentage, threshold float64) string {
	text := fmt.Sprintf("%.1f%%", percentage)
	if percentage >= threshold*100 {
		return colorActive.Sprint(text)
	}
	return colorInactive.Sprint(text)
}
