package monitor

import (
	"fmt"

	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/types"
)

// UsageAlert flags a user whose usage crossed a threshold
type UsageAlert = types.UsageAlert

// EvaluateUsage raises GPU-hour and IO alerts for the current snapshots.
//
// A GPU-hour alert needs GPUHours above the threshold and no covering
// reservation. A user is covered when their reservations total N > 0 GPUs
// and GPUHours/N stays within the utilization tolerance.
func EvaluateUsage(snapshots []types.UsageSnapshot, events []reservation.Event, thresholds types.Thresholds) []UsageAlert {
	reserved := make(map[string]int)
	for _, e := range events {
		reserved[e.Username] += e.TotalCount()
	}

	alerts := []UsageAlert{}
	for _, s := range snapshots {
		if s.GPUHours > thresholds.GPUHours {
			n := reserved[s.Username]
			if !covered(s.GPUHours, n, thresholds.Utilization) {
				alerts = append(alerts, UsageAlert{
					Kind:         types.AlertKindGPUHours,
					Username:     s.Username,
					Value:        s.GPUHours,
					Threshold:    thresholds.GPUHours,
					ReservedGPUs: n,
					Message:      gpuHoursMessage(s.GPUHours, thresholds.GPUHours, n),
				})
			}
		}

		if s.IOOperations > thresholds.IOOps {
			alerts = append(alerts, UsageAlert{
				Kind:      types.AlertKindIO,
				Username:  s.Username,
				Value:     float64(s.IOOperations),
				Threshold: float64(thresholds.IOOps),
				Message:   fmt.Sprintf("%d IO operations exceed the limit of %d", s.IOOperations, thresholds.IOOps),
			})
		}
	}
	return alerts
}

func covered(gpuHours float64, reservedGPUs int, tolerance float64) bool {
	if reservedGPUs <= 0 {
		return false
	}
	return gpuHours/float64(reservedGPUs) <= tolerance
}

func gpuHoursMessage(gpuHours, threshold float64, reservedGPUs int) string {
	if reservedGPUs == 0 {
		return fmt.Sprintf("%.2f GPU hours exceed the limit of %.2f without a reservation", gpuHours, threshold)
	}
	return fmt.Sprintf("%.2f GPU hours exceed the limit of %.2f and the %d reserved GPUs", gpuHours, threshold, reservedGPUs)
}
