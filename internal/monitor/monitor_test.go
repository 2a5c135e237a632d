package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikcluster/tikwatch/internal/attribution"
	"github.com/tikcluster/tikwatch/internal/provider"
	"github.com/tikcluster/tikwatch/internal/reservation"
	"github.com/tikcluster/tikwatch/internal/types"
)

// stubSource serves in-memory data and can be switched to fail or to block until cancelled
type stubSource struct {
	mu         sync.Mutex
	report     types.UsageReport
	theses     []types.ThesisRecord
	users      []types.UserInfo
	lines      []string
	usageErr   error
	blockUsage bool
}

func (s *stubSource) Name() string { return "stub" }
func (s *stubSource) Close() error { return nil }

func (s *stubSource) CurrentUsage(ctx context.Context) (*types.UsageReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockUsage {
		<-ctx.Done()
		return nil, &provider.MissingDataError{Source: "stub", What: "usage", Err: ctx.Err()}
	}
	if s.usageErr != nil {
		return nil, &provider.MissingDataError{Source: "stub", What: "usage", Err: s.usageErr}
	}
	report := s.report
	return &report, nil
}

func (s *stubSource) Theses(ctx context.Context) ([]types.ThesisRecord, error) {
	return s.theses, nil
}

func (s *stubSource) Users(ctx context.Context) ([]types.UserInfo, error) {
	return s.users, nil
}

func (s *stubSource) ReservationLines(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines, nil
}

func (s *stubSource) setUsageErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageErr = err
}

func (s *stubSource) setLines(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = lines
}

func newStubSource() *stubSource {
	return &stubSource{
		report: types.UsageReport{
			Timestamp: types.FlexibleTime{Time: time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)},
			Snapshots: []types.UsageSnapshot{
				{
					Username: "alice", TotalCPUs: 16, TotalMemoryGB: 64, TotalGPUs: 4, GPUHours: 3.5,
					Hosts: []types.HostUsage{{Host: "tikgpu10", CPUs: 16, MemoryGB: 64, GPUs: 4}},
				},
				{
					Username: "bob", TotalCPUs: 8, TotalMemoryGB: 32, TotalGPUs: 2, GPUHours: 9, IOOperations: 300000,
					Hosts: []types.HostUsage{{Host: "tikgpu02", CPUs: 8, MemoryGB: 32, GPUs: 2}},
				},
				{Username: "idle"},
			},
		},
		theses: []types.ThesisRecord{
			{Title: "Sparse attention", Students: []string{"alice"}, Supervisors: []string{"prof_x", "prof_y"}},
			{Title: "Speech", Students: []string{"idle"}, Supervisors: []string{"prof_x"}},
		},
		users: []types.UserInfo{
			{Username: "alice", Role: "stud"},
			{Username: "bob", Role: "guest"},
			{Username: "prof_x", Role: "staff"},
		},
		lines: []string{
			"alice @ 4x tikgpu10 (ICML deadline)",
			"bob @ 8x tikgpuX",
			"not a reservation",
			"mallory @ 1x tikgpu01",
		},
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
}

func TestBuild(t *testing.T) {
	src := newStubSource()

	d, err := Build(context.Background(), src, Options{Thresholds: types.DefaultThresholds(), Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, fixedNow(), d.GeneratedAt)
	assert.Equal(t, src.report.Timestamp.Time, d.UsageTimestamp)
	assert.Equal(t, "stub", d.Source)
	assert.Len(t, d.Usage, 3)
	assert.Equal(t, []string{"bob"}, d.UsersWithoutTheses)
	assert.Equal(t, src.theses, d.Theses)

	assert.Equal(t, []attribution.Row{
		{Supervisor: "prof_x", CPUs: 8, MemoryGB: 32, GPUs: 2, GPUHours: 1.75, Users: []string{"alice", "prof_x"}},
		{Supervisor: "prof_y", CPUs: 8, MemoryGB: 32, GPUs: 2, GPUHours: 1.75, Users: []string{"alice", "prof_y"}},
		{Supervisor: attribution.NoSupervisor, CPUs: 8, MemoryGB: 32, GPUs: 2, GPUHours: 9, Users: []string{"bob"}},
	}, d.Supervisors)

	require.Len(t, d.Reservations.HardReservations, 2)
	assert.Equal(t, "alice", d.Reservations.HardReservations[0].Username)
	assert.Equal(t, "mallory", d.Reservations.HardReservations[1].Username)
	require.Len(t, d.Reservations.Announcements, 1)
	assert.Equal(t, "bob", d.Reservations.Announcements[0].Username)

	require.Len(t, d.Unparsed, 1)
	assert.Equal(t, "not a reservation", d.Unparsed[0].OriginalText)

	require.Len(t, d.Activity, 2)
	assert.True(t, d.Activity[0].Active)
	assert.False(t, d.Activity[1].Active)

	require.Len(t, d.Alerts, 2)
	assert.Equal(t, types.AlertKindGPUHours, d.Alerts[0].Kind)
	assert.Equal(t, "bob", d.Alerts[0].Username)
	assert.Equal(t, 8, d.Alerts[0].ReservedGPUs)
	assert.Equal(t, fixedNow(), d.Alerts[0].Timestamp.Time)
	assert.Equal(t, types.AlertKindIO, d.Alerts[1].Kind)

	records := d.ActivityRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "alice @ 4x tikgpu10 (ICML deadline)", records[0].Line)
	assert.Equal(t, fixedNow(), records[0].Timestamp.Time)
}

func TestBuild_Strict(t *testing.T) {
	src := newStubSource()

	d, err := Build(context.Background(), src, Options{Strict: true, Thresholds: types.DefaultThresholds()})
	require.NoError(t, err)

	require.Len(t, d.Reservations.HardReservations, 1)
	require.Len(t, d.Unparsed, 2)
	assert.Equal(t, "mallory @ 1x tikgpu01", d.Unparsed[1].OriginalText)
	assert.Equal(t, "invalid username: mallory", d.Unparsed[1].Reason)
}

func TestBuild_InvalidResourcePattern(t *testing.T) {
	_, err := Build(context.Background(), newStubSource(), Options{Strict: true, ResourcePattern: "("})
	assert.Error(t, err)
}

func TestBuild_MissingData(t *testing.T) {
	src := newStubSource()
	src.setUsageErr(errors.New("connection refused"))

	_, err := Build(context.Background(), src, Options{})
	require.Error(t, err)

	var missing *provider.MissingDataError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "usage", missing.What)
}

func TestBuild_InvariantViolation(t *testing.T) {
	src := newStubSource()
	src.theses = append(src.theses, types.ThesisRecord{Students: []string{""}, Supervisors: []string{"x"}})

	_, err := Build(context.Background(), src, Options{})
	require.Error(t, err)

	var violation *attribution.InvariantViolation
	assert.True(t, errors.As(err, &violation))
}

func TestEvaluateUsage(t *testing.T) {
	events := reservation.DecodeLines([]string{
		"carol @ 8x tikgpu01",
		"dave @ 4x tikgpu02, 4x tikgpu03",
	}).Events
	thresholds := types.DefaultThresholds()

	tests := []struct {
		name     string
		snapshot types.UsageSnapshot
		kinds    []string
	}{
		{"below threshold", types.UsageSnapshot{Username: "erin", GPUHours: 4}, nil},
		{"unreserved", types.UsageSnapshot{Username: "erin", GPUHours: 4.5}, []string{types.AlertKindGPUHours}},
		{"covered by reservation", types.UsageSnapshot{Username: "carol", GPUHours: 8}, nil},
		{"exceeds reservation", types.UsageSnapshot{Username: "carol", GPUHours: 10}, []string{types.AlertKindGPUHours}},
		{"multi-resource reservation", types.UsageSnapshot{Username: "dave", GPUHours: 6}, nil},
		{"io only", types.UsageSnapshot{Username: "erin", IOOperations: 250001}, []string{types.AlertKindIO}},
		{"io at limit", types.UsageSnapshot{Username: "erin", IOOperations: 250000}, nil},
		{"both", types.UsageSnapshot{Username: "erin", GPUHours: 5, IOOperations: 1 << 20}, []string{types.AlertKindGPUHours, types.AlertKindIO}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := EvaluateUsage([]types.UsageSnapshot{tt.snapshot}, events, thresholds)
			var kinds []string
			for _, a := range alerts {
				kinds = append(kinds, a.Kind)
				assert.Equal(t, tt.snapshot.Username, a.Username)
				assert.NotEmpty(t, a.Message)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestRefresher(t *testing.T) {
	src := newStubSource()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	refreshed := make(chan *Dashboard, 16)
	r := NewRefresher(context.Background(), src, Options{Thresholds: types.DefaultThresholds()}, 10*time.Millisecond, logger)
	r.OnRefresh = func(d *Dashboard) {
		select {
		case refreshed <- d:
		default:
		}
	}

	require.NoError(t, r.Start())
	defer r.Stop()

	first := r.Latest()
	require.NotNil(t, first)
	assert.Len(t, first.Unparsed, 1)

	src.setLines([]string{"alice @ 4x tikgpu10"})
	require.Eventually(t, func() bool {
		d := r.Latest()
		return d != nil && len(d.Unparsed) == 0
	}, time.Second, 5*time.Millisecond)

	// A failing source keeps the last good dashboard
	src.setUsageErr(errors.New("backend down"))
	require.Eventually(t, func() bool {
		return r.LastError() != nil
	}, time.Second, 5*time.Millisecond)
	kept := r.Latest()
	require.NotNil(t, kept)
	assert.Empty(t, kept.Unparsed)

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.ErrorLevel {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	src.setUsageErr(nil)
	require.Eventually(t, func() bool {
		return r.LastError() == nil
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, refreshed)
}

func TestRefresher_StartFailure(t *testing.T) {
	src := newStubSource()
	src.setUsageErr(errors.New("backend down"))

	r := NewRefresher(context.Background(), src, Options{}, time.Hour, nil)
	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial dashboard")
	assert.Nil(t, r.Latest())

	// Stop must not block after a failed start
	r.Stop()
}

func TestRefresher_StartCancelledByParent(t *testing.T) {
	src := newStubSource()
	src.blockUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRefresher(ctx, src, Options{}, time.Hour, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	r.Stop()
}

func TestRefresher_StopsWithParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRefresher(ctx, newStubSource(), Options{}, time.Hour, nil)
	require.NoError(t, r.Start())

	cancel()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after its parent context was cancelled")
	}
}
