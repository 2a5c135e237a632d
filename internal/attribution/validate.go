package attribution

import (
	"fmt"
	"math"

	"github.com/tikcluster/tikwatch/internal/types"
)

// InvariantViolation reports input that must be rejected before attribution
type InvariantViolation struct {
	Field  string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invalid attribution input: %s: %s", e.Field, e.Reason)
}

// Validate checks snapshots and theses at the boundary. Empty usernames,
// negative or NaN totals, and a supervisor named after the NoSupervisor
// bucket are rejected.
func Validate(snapshots []types.UsageSnapshot, theses []types.ThesisRecord) error {
	for i, s := range snapshots {
		field := fmt.Sprintf("usage[%d]", i)
		if s.Username == "" {
			return &InvariantViolation{Field: field, Reason: "empty username"}
		}
		metrics := []struct {
			name  string
			value float64
		}{
			{"total_cpus", s.TotalCPUs},
			{"total_memory_gb", s.TotalMemoryGB},
			{"total_gpus", s.TotalGPUs},
			{"gpu_hours", s.GPUHours},
		}
		for _, m := range metrics {
			if math.IsNaN(m.value) || math.IsInf(m.value, 0) || m.value < 0 {
				return &InvariantViolation{
					Field:  field + "." + m.name,
					Reason: fmt.Sprintf("%s has invalid value %v", s.Username, m.value),
				}
			}
		}
	}

	for i, t := range theses {
		for j, student := range t.Students {
			if student == "" {
				return &InvariantViolation{Field: fmt.Sprintf("theses[%d].students[%d]", i, j), Reason: "empty username"}
			}
		}
		for j, sup := range t.Supervisors {
			field := fmt.Sprintf("theses[%d].supervisors[%d]", i, j)
			if sup == "" {
				return &InvariantViolation{Field: field, Reason: "empty username"}
			}
			if sup == NoSupervisor {
				return &InvariantViolation{Field: field, Reason: "reserved name " + NoSupervisor}
			}
		}
	}
	return nil
}
