package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFlexibleTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{
			name:     "Unix timestamp as integer",
			input:    `1640995200`,
			expected: time.Unix(1640995200, 0),
		},
		{
			name:     "Unix timestamp as float",
			input:    `1640995200.123`,
			expected: time.Unix(1640995200, 123*int64(time.Millisecond)),
		},
		{
			name:     "Fractional timestamp as string",
			input:    `"1714557600.5"`,
			expected: time.Unix(1714557600, 500*int64(time.Millisecond)),
		},
		{
			name:     "Negative fractional timestamp",
			input:    `-1.25`,
			expected: time.Unix(-1, -250*int64(time.Millisecond)),
		},
		{
			name:    "NaN",
			input:   `"NaN"`,
			wantErr: true,
		},
		{
			name:    "Infinity",
			input:   `"Inf"`,
			wantErr: true,
		},
		{
			name:    "Negative infinity",
			input:   `"-Infinity"`,
			wantErr: true,
		},
		{
			name:     "RFC3339 string",
			input:    `"2022-01-01T00:00:00Z"`,
			expected: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "RFC3339 string with timezone",
			input:    `"2022-01-01T12:30:45-05:00"`,
			expected: time.Date(2022, 1, 1, 17, 30, 45, 0, time.UTC),
		},
		{
			name:     "ISO string without zone",
			input:    `"2022-01-01T12:30:45"`,
			expected: time.Date(2022, 1, 1, 12, 30, 45, 0, time.UTC),
		},
		{
			name:    "Invalid JSON",
			input:   `invalid`,
			wantErr: true,
		},
		{
			name:    "Invalid time format",
			input:   `"not-a-time"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft FlexibleTime
			err := json.Unmarshal([]byte(tt.input), &ft)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(ft.Time),
				"Expected %v, got %v", tt.expected, ft.Time)
		})
	}
}

func TestFlexibleTime_MarshalJSON(t *testing.T) {
	ft := FlexibleTime{Time: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(ft)
	require.NoError(t, err)
	assert.Equal(t, `"2022-01-01T00:00:00Z"`, string(data))

	data, err = json.Marshal(FlexibleTime{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestFlexibleTime_UnmarshalYAML(t *testing.T) {
	var report UsageReport
	err := yaml.Unmarshal([]byte("timestamp: \"2024-05-01T10:00:00Z\"\nusage: []\n"), &report)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Equal(report.Timestamp.ToTime()))

	err = yaml.Unmarshal([]byte("timestamp: \"yesterday\"\n"), &report)
	assert.Error(t, err)

	err = yaml.Unmarshal([]byte("timestamp: \"1714557600.25\"\n"), &report)
	require.NoError(t, err)
	assert.True(t, time.Unix(1714557600, 250*int64(time.Millisecond)).Equal(report.Timestamp.ToTime()))

	err = yaml.Unmarshal([]byte("timestamp: \"NaN\"\n"), &report)
	assert.Error(t, err)
}

func TestUsageSnapshot_IsZero(t *testing.T) {
	assert.True(t, UsageSnapshot{Username: "alice"}.IsZero())
	assert.False(t, UsageSnapshot{Username: "alice", GPUHours: 0.5}.IsZero())
	assert.False(t, UsageSnapshot{Username: "alice", TotalMemoryGB: 1}.IsZero())
	// IO alone is not resource usage
	assert.True(t, UsageSnapshot{Username: "alice", IOOperations: 1000}.IsZero())
}

func TestUsageReport_JSONShape(t *testing.T) {
	payload := `{
		"timestamp": 1714557600,
		"usage": [
			{"user": "alice", "total_cpus": 16, "total_memory_gb": 64, "total_gpus": 2, "gpu_hours": 3.5,
			 "hosts": [{"host": "tikgpu01", "cpus": 16, "memory_gb": 64, "gpus": 2}]}
		]
	}`

	var report UsageReport
	require.NoError(t, json.Unmarshal([]byte(payload), &report))
	require.Len(t, report.Snapshots, 1)

	snapshot := report.Snapshots[0]
	assert.Equal(t, "alice", snapshot.Username)
	assert.Equal(t, 2.0, snapshot.TotalGPUs)
	assert.Equal(t, 3.5, snapshot.GPUHours)
	require.Len(t, snapshot.Hosts, 1)
	assert.Equal(t, "tikgpu01", snapshot.Hosts[0].Host)
	assert.Equal(t, int64(1714557600), report.Timestamp.Unix())
}
