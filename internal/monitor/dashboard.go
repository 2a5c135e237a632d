package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/tikcluster/tikwatch/internal/attribution"
	"github.com/tikcluster/tikwatch/internal/provider"
	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/types"
)

// Options controls how a dashboard is built
type Options struct {
	// Strict rejects reservations by unknown users or on unknown resources
	Strict bool
	// ResourcePattern overrides reservation.DefaultResourcePattern in strict mode
	ResourcePattern string
	Thresholds      types.Thresholds
	// Now stamps the dashboard; defaults to time.Now
	Now func() time.Time
}

// Dashboard is everything derived from one pass over the source
type Dashboard struct {
	GeneratedAt        time.Time                  `json:"generated_at"`
	UsageTimestamp     time.Time                  `json:"usage_timestamp"`
	Source             string                     `json:"source"`
	Usage              []types.UsageSnapshot      `json:"usage"`
	Supervisors        []attribution.Row          `json:"supervisors"`
	UsersWithoutTheses []string                   `json:"users_without_theses"`
	Theses             []types.ThesisRecord       `json:"theses"`
	Reservations       reservation.Classification `json:"reservations"`
	Unparsed           []reservation.ParseFailure `json:"unparsed"`
	Activity           []reservation.Activity     `json:"activity"`
	Alerts             []UsageAlert               `json:"alerts"`
}

// Build fetches all provider data and computes one dashboard
func Build(ctx context.Context, source provider.Source, opts Options) (*Dashboard, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	report, err := source.CurrentUsage(ctx)
	if err != nil {
		return nil, err
	}
	theses, err := source.Theses(ctx)
	if err != nil {
		return nil, err
	}
	users, err := source.Users(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := source.ReservationLines(ctx)
	if err != nil {
		return nil, err
	}

	decoder, err := newDecoder(opts, users)
	if err != nil {
		return nil, err
	}
	batch := decoder.DecodeLines(lines)

	roles := attribution.RolesFromUsers(users)
	rows, err := attribution.Compute(report.Snapshots, theses, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to attribute usage: %w", err)
	}

	generated := now()
	alerts := EvaluateUsage(report.Snapshots, batch.Events, opts.Thresholds)
	for i := range alerts {
		alerts[i].Timestamp = types.FlexibleTime{Time: generated}
	}

	snapshots := report.Snapshots
	if snapshots == nil {
		snapshots = []types.UsageSnapshot{}
	}
	if theses == nil {
		theses = []types.ThesisRecord{}
	}

	return &Dashboard{
		GeneratedAt:        generated,
		UsageTimestamp:     report.Timestamp.ToTime(),
		Source:             source.Name(),
		Usage:              snapshots,
		Supervisors:        rows,
		UsersWithoutTheses: attribution.UsersWithoutTheses(snapshots, theses, roles),
		Theses:             theses,
		Reservations:       reservation.Classify(batch.Events),
		Unparsed:           batch.Failures,
		Activity:           reservation.CheckActivity(batch.Events, snapshots, opts.Thresholds.Activity),
		Alerts:             alerts,
	}, nil
}

func newDecoder(opts Options, users []types.UserInfo) (*reservation.Decoder, error) {
	if !opts.Strict {
		return &reservation.Decoder{}, nil
	}

	known := make(map[string]bool, len(users))
	for _, u := range users {
		known[u.Username] = true
	}
	return reservation.NewStrictDecoder(func(username string) bool {
		return known[username]
	}, opts.ResourcePattern)
}

// ActivityRecords converts the activity check into storable records
func (d *Dashboard) ActivityRecords() []*types.ActivityRecord {
	records := make([]*types.ActivityRecord, 0, len(d.Activity))
	for _, a := range d.Activity {
		records = append(records, &types.ActivityRecord{
			Username:  a.Username,
			Line:      a.Line,
			Active:    a.Active,
			HostsUsed: a.HostsUsed,
			Timestamp: types.FlexibleTime{Time: d.GeneratedAt},
		})
	}
	return records
}
