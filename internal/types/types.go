package types

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// FlexibleTime handles both Unix timestamps and RFC3339 time strings
type FlexibleTime struct {
	time.Time
}

func (ft *FlexibleTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	// Remove quotes if present
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return ft.parse(s)
}

// UnmarshalYAML accepts the same formats as UnmarshalJSON for dataset files
func (ft *FlexibleTime) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	return ft.parse(s)
}

func (ft *FlexibleTime) parse(s string) error {
	// The usage backend emits fractional Unix timestamps; precision is kept to the microsecond
	if timestamp, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) {
			return fmt.Errorf("cannot parse time: %s", s)
		}
		sec, frac := math.Modf(timestamp)
		ft.Time = time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
		return nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		ft.Time = t
		return nil
	}

	// Naive ISO timestamps without zone, as written by the original backend
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		ft.Time = t
		return nil
	}

	return fmt.Errorf("cannot parse time: %s", s)
}

func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	if ft.IsZero() {
		return []byte("null"), nil
	}
	return ft.Time.MarshalJSON()
}

// ToTime converts FlexibleTime to time.Time
func (ft FlexibleTime) ToTime() time.Time {
	return ft.Time
}

// HostUsage is a user's current consumption on a single machine
type HostUsage struct {
	Host     string  `json:"host" yaml:"host"`
	CPUs     float64 `json:"cpus" yaml:"cpus"`
	MemoryGB float64 `json:"memory_gb" yaml:"memory_gb"`
	GPUs     float64 `json:"gpus" yaml:"gpus"`
}

// UsageSnapshot is one active user's resource totals at a point in time
type UsageSnapshot struct {
	Username      string      `json:"user" yaml:"user"`
	UserRole      string      `json:"user_role,omitempty" yaml:"user_role,omitempty"`
	TotalCPUs     float64     `json:"total_cpus" yaml:"total_cpus"`
	TotalMemoryGB float64     `json:"total_memory_gb" yaml:"total_memory_gb"`
	TotalGPUs     float64     `json:"total_gpus" yaml:"total_gpus"`
	GPUHours      float64     `json:"gpu_hours" yaml:"gpu_hours"`
	IOOperations  int64       `json:"io_operations,omitempty" yaml:"io_operations,omitempty"`
	Hosts         []HostUsage `json:"hosts,omitempty" yaml:"hosts,omitempty"`
}

// IsZero reports whether the snapshot carries no usage at all
func (s UsageSnapshot) IsZero() bool {
	return s.TotalCPUs == 0 && s.TotalMemoryGB == 0 && s.TotalGPUs == 0 && s.GPUHours == 0
}

// UsageReport is what the usage provider returns on each call
type UsageReport struct {
	Timestamp FlexibleTime    `json:"timestamp" yaml:"timestamp"`
	Snapshots []UsageSnapshot `json:"usage" yaml:"usage"`
}

// ThesisRecord links students to their supervisors
type ThesisRecord struct {
	Title       string   `json:"title" yaml:"title"`
	Semester    string   `json:"semester" yaml:"semester"`
	Students    []string `json:"students" yaml:"students"`
	Supervisors []string `json:"supervisors" yaml:"supervisors"`
}

// UserInfo is a user directory entry
type UserInfo struct {
	Username string `json:"username" yaml:"username"`
	Role     string `json:"user_role,omitempty" yaml:"user_role,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Alert kinds raised by the usage check
const (
	AlertKindGPUHours = "gpu_hours"
	AlertKindIO       = "io"
)

// UsageAlert flags a user whose usage crossed a threshold
type UsageAlert struct {
	Kind         string       `json:"kind"`
	Username     string       `json:"username"`
	Value        float64      `json:"value"`
	Threshold    float64      `json:"threshold"`
	ReservedGPUs int          `json:"reserved_gpus,omitempty"`
	Message      string       `json:"message"`
	Timestamp    FlexibleTime `json:"timestamp"`
}

// ActivityRecord is the stored outcome of one reservation activity check
type ActivityRecord struct {
	Username  string       `json:"username"`
	Line      string       `json:"line"`
	Active    bool         `json:"active"`
	HostsUsed []string     `json:"hosts_used,omitempty"`
	Timestamp FlexibleTime `json:"timestamp"`
}

// Thresholds configures the usage and reservation checks
type Thresholds struct {
	GPUHours    float64
	IOOps       int64
	Utilization float64
	Activity    float64
}

// DefaultThresholds returns the thresholds used when none are configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		GPUHours:    DefaultGPUHoursThreshold,
		IOOps:       DefaultIOOpsThreshold,
		Utilization: DefaultUtilizationTolerance,
		Activity:    DefaultActivityThreshold,
	}
}

// Config represents the application configuration
type Config struct {
	RedisHost       string
	RedisPort       int
	RedisDB         int
	Source          string
	DataFile        string
	RefreshInterval time.Duration
	ResourcePattern string
	LogLevel        string
	LogFormat       string
	Thresholds      Thresholds
}

// Constants
const (
	SourceRedis = "redis"
	SourceFile  = "file"

	RedisKeyPrefix             = "tikwatch:"
	RedisKeyUsage              = RedisKeyPrefix + "usage"
	RedisKeyTheses             = RedisKeyPrefix + "theses"
	RedisKeyUsers              = RedisKeyPrefix + "users"
	RedisKeyReservationFeed    = RedisKeyPrefix + "reservation_feed"
	RedisKeyReservationHistory = RedisKeyPrefix + "reservation_activity_sorted"
	RedisKeyAlertHistory       = RedisKeyPrefix + "usage_alerts_sorted"
	RedisKeyImportLock         = RedisKeyPrefix + "import_lock"

	LockTimeout    = 30 * time.Second
	MaxLockRetries = 5

	HistoryRetention = 90 * 24 * time.Hour

	DefaultRefreshInterval = time.Minute

	DefaultGPUHoursThreshold    = 4.0
	DefaultIOOpsThreshold       = 250 * 1000
	DefaultUtilizationTolerance = 1.1
	DefaultActivityThreshold    = 0.5
)
