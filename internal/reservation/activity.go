package reservation

import (
	"github.com/tikcluster/tikwatch/internal/types"
	"github.com/tikcluster/tikwatch/internal/utils"
)

// ResourceActivity compares one reserved resource with what its owner runs there
type ResourceActivity struct {
	Resource   string  `json:"resource"`
	Reserved   int     `json:"reserved"`
	Actual     float64 `json:"actual"`
	Percentage float64 `json:"percentage"`
	Active     bool    `json:"active"`
}

// Activity is the usage check of one hard reservation
type Activity struct {
	Username  string             `json:"username"`
	Line      string             `json:"line"`
	Resources []ResourceActivity `json:"resources"`
	HostsUsed []string           `json:"hosts_used"`
	Active    bool               `json:"active"`
}

// CheckActivity reports, for every hard reservation, whether the owner uses at
// least threshold (a fraction) of each reserved resource. Announcements are skipped.
func CheckActivity(events []Event, usage []types.UsageSnapshot, threshold float64) []Activity {
	byUser := make(map[string]types.UsageSnapshot, len(usage))
	for _, s := range usage {
		byUser[s.Username] = s
	}

	activities := []Activity{}
	for _, e := range events {
		if e.IsWildcard {
			continue
		}

		snapshot := byUser[e.Username]
		activity := Activity{
			Username:  e.Username,
			Line:      e.String(),
			Resources: make([]ResourceActivity, 0, len(e.Resources)),
			HostsUsed: hostsUsed(snapshot),
			Active:    true,
		}

		for _, r := range e.Resources {
			if r.IsWildcard() {
				continue
			}
			actual := gpusOnHost(snapshot, r.Name)
			ratio := actual / float64(r.Count)
			ra := ResourceActivity{
				Resource:   r.Name,
				Reserved:   r.Count,
				Actual:     actual,
				Percentage: utils.RoundHalfUp(ratio*100, 1),
				Active:     ratio >= threshold,
			}
			if !ra.Active {
				activity.Active = false
			}
			activity.Resources = append(activity.Resources, ra)
		}

		activities = append(activities, activity)
	}
	return activities
}

func gpusOnHost(s types.UsageSnapshot, host string) float64 {
	var total float64
	for _, h := range s.Hosts {
		if utils.EqualFold(h.Host, host) {
			total += h.GPUs
		}
	}
	return total
}

func hostsUsed(s types.UsageSnapshot) []string {
	hosts := []string{}
	for _, h := range s.Hosts {
		if h.GPUs > 0 {
			hosts = append(hosts, h.Host)
		}
	}
	return hosts
}
