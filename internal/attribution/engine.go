package attribution

import (
	"sort"

	"github.com/tikcluster/tikwatch/internal/types"
	"github.com/tikcluster/tikwatch/internal/utils"
)

// NoSupervisor keys the bucket of non-staff users without a thesis
const NoSupervisor = "nosupervisor"

const staffRole = "staff"

// Row is one supervisor's aggregated usage, rounded for display
type Row struct {
	Supervisor string   `json:"supervisor"`
	CPUs       float64  `json:"cpus"`
	MemoryGB   float64  `json:"memory_gb"`
	GPUs       float64  `json:"gpus"`
	GPUHours   float64  `json:"gpu_hours"`
	Users      []string `json:"users"`
}

// bucket accumulates raw, unrounded totals for one supervisor key
type bucket struct {
	key      string
	cpus     float64
	memoryGB float64
	gpus     float64
	gpuHours float64
	users    map[string]struct{}
}

func newBucket(key string) *bucket {
	return &bucket{key: key, users: make(map[string]struct{})}
}

func (b *bucket) add(s types.UsageSnapshot, factor float64) {
	b.cpus += s.TotalCPUs * factor
	b.memoryGB += s.TotalMemoryGB * factor
	b.gpus += s.TotalGPUs * factor
	b.gpuHours += s.GPUHours * factor
}

func (b *bucket) row() Row {
	users := make([]string, 0, len(b.users))
	for u := range b.users {
		users = append(users, u)
	}
	sort.Strings(users)

	return Row{
		Supervisor: b.key,
		CPUs:       utils.RoundHalfUp(b.cpus, 1),
		MemoryGB:   utils.RoundHalfUp(b.memoryGB, 1),
		GPUs:       utils.RoundHalfUp(b.gpus, 1),
		GPUHours:   utils.RoundHalfUp(b.gpuHours, 2),
		Users:      users,
	}
}

func (b *bucket) empty() bool {
	return b.cpus <= 0 && b.memoryGB <= 0 && b.gpus <= 0 && b.gpuHours <= 0
}

// buckets is an insertion-ordered collection keyed by supervisor
type buckets struct {
	order []*bucket
	byKey map[string]*bucket
}

func (bs *buckets) ensure(key string) *bucket {
	if b, ok := bs.byKey[key]; ok {
		return b
	}
	b := newBucket(key)
	bs.byKey[key] = b
	bs.order = append(bs.order, b)
	return b
}

// Compute attributes each snapshot's usage to supervisor buckets.
//
// Supervisors keep their own usage. A thesis student's usage is split evenly
// across the union of their supervisors. Anyone else lands in the NoSupervisor
// bucket unless their role is staff, in which case the usage is dropped.
// Rows with no usage are omitted and the result is stably sorted by GPUs,
// highest first.
func Compute(snapshots []types.UsageSnapshot, theses []types.ThesisRecord, roles map[string]string) ([]Row, error) {
	if err := Validate(snapshots, theses); err != nil {
		return nil, err
	}

	bs := &buckets{byKey: make(map[string]*bucket)}
	studentSupervisors := make(map[string][]string)

	for _, t := range theses {
		for _, sup := range t.Supervisors {
			bs.ensure(sup).users[sup] = struct{}{}
		}
		if len(t.Supervisors) == 0 {
			continue
		}
		for _, student := range t.Students {
			studentSupervisors[student] = union(studentSupervisors[student], t.Supervisors)
		}
	}
	unsupervised := bs.ensure(NoSupervisor)

	for _, s := range snapshots {
		if s.IsZero() {
			continue
		}

		if own, ok := bs.byKey[s.Username]; ok && s.Username != NoSupervisor {
			own.add(s, 1)
			continue
		}

		if sups := studentSupervisors[s.Username]; len(sups) > 0 {
			factor := 1 / float64(len(sups))
			for _, sup := range sups {
				b := bs.byKey[sup]
				b.add(s, factor)
				b.users[s.Username] = struct{}{}
			}
			continue
		}

		if isStaff(roleOf(s, roles)) {
			continue
		}
		unsupervised.add(s, 1)
		unsupervised.users[s.Username] = struct{}{}
	}

	rows := make([]Row, 0, len(bs.order))
	for _, b := range bs.order {
		if b.empty() {
			continue
		}
		rows = append(rows, b.row())
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].GPUs > rows[j].GPUs
	})
	return rows, nil
}

// UsersWithoutTheses lists non-staff users with current usage who appear in
// no thesis, neither as student nor as supervisor. The result is sorted.
func UsersWithoutTheses(snapshots []types.UsageSnapshot, theses []types.ThesisRecord, roles map[string]string) []string {
	inThesis := make(map[string]bool)
	for _, t := range theses {
		for _, student := range t.Students {
			inThesis[student] = true
		}
		for _, sup := range t.Supervisors {
			inThesis[sup] = true
		}
	}

	seen := make(map[string]bool)
	users := []string{}
	for _, s := range snapshots {
		if s.IsZero() || inThesis[s.Username] || seen[s.Username] {
			continue
		}
		if isStaff(roleOf(s, roles)) {
			continue
		}
		seen[s.Username] = true
		users = append(users, s.Username)
	}
	sort.Strings(users)
	return users
}

// RolesFromUsers builds the role lookup used by Compute
func RolesFromUsers(users []types.UserInfo) map[string]string {
	roles := make(map[string]string, len(users))
	for _, u := range users {
		if u.Username == "" {
			continue
		}
		roles[u.Username] = u.Role
	}
	return roles
}

// roleOf prefers the directory role and falls back to the role on the snapshot
func roleOf(s types.UsageSnapshot, roles map[string]string) string {
	if role, ok := roles[s.Username]; ok && role != "" {
		return role
	}
	return s.UserRole
}

func isStaff(role string) bool {
	return utils.EqualFold(role, staffRole)
}

func union(set []string, add []string) []string {
	for _, a := range add {
		found := false
		for _, s := range set {
			if s == a {
				found = true
				break
			}
		}
		if !found {
			set = append(set, a)
		}
	}
	return set
}
