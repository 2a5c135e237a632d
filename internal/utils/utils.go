package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Normalize returns the comparison form of a label (roles, resource names).
// All case-insensitive comparisons go through here.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EqualFold compares two labels by their normalized form
func EqualFold(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// RoundHalfUp rounds v to the given number of decimal places, halves away from zero.
// The rounding works on the shortest decimal representation of v, so 0.25 rounds to 0.3.
func RoundHalfUp(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// ParseDuration parses duration strings like "30s", "1m", "2h", "1d"
func ParseDuration(duration string) (time.Duration, error) {
	if duration == "" {
		return time.Minute, nil // Default refresh cadence
	}

	// Handle decimal values like "0.5h"
	if strings.Contains(duration, ".") {
		if strings.HasSuffix(duration, "h") {
			hoursStr := strings.TrimSuffix(duration, "h")
			hours, err := strconv.ParseFloat(hoursStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration format: %s", duration)
			}
			return time.Duration(hours * float64(time.Hour)), nil
		}
		if strings.HasSuffix(duration, "d") {
			daysStr := strings.TrimSuffix(duration, "d")
			days, err := strconv.ParseFloat(daysStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration format: %s", duration)
			}
			return time.Duration(days * 24 * float64(time.Hour)), nil
		}
	}

	if strings.HasSuffix(duration, "s") {
		seconds, err := strconv.Atoi(strings.TrimSuffix(duration, "s"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	if strings.HasSuffix(duration, "m") {
		minutes, err := strconv.Atoi(strings.TrimSuffix(duration, "m"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		return time.Duration(minutes) * time.Minute, nil
	}

	if strings.HasSuffix(duration, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(duration, "h"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		return time.Duration(hours) * time.Hour, nil
	}

	if strings.HasSuffix(duration, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(duration, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s (use formats like 30s, 30m, 2h, 1d)", duration)
}

// FormatDuration formats a duration into human readable format
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("0h 0m %ds", int(d.Seconds()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

// FormatTimeAgo formats a time.Time into relative format like "2h 30m 15s ago"
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := time.Since(t)
	if d < 0 {
		return "in the future"
	}

	return FormatDuration(d) + " ago"
}

// TruncateString truncates a string to maxLen runes
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatUserList joins usernames for a table cell, collapsing the tail past maxUsers
func FormatUserList(users []string, maxUsers int) string {
	if len(users) == 0 {
		return "-"
	}

	if maxUsers <= 0 || len(users) <= maxUsers {
		return strings.Join(users, ", ")
	}

	displayed := users[:maxUsers]
	remaining := len(users) - maxUsers
	return strings.Join(displayed, ", ") + fmt.Sprintf(" and %d more", remaining)
}
