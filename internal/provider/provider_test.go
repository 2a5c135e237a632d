package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikcluster/tikwatch/internal/redis_client"
	"github.com/tikcluster/tikwatch/internal/types"
)

const fixture = "testdata/cluster.yaml"

func newTestClient(t *testing.T) *redis_client.Client {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client := redis_client.NewClient(&types.Config{RedisHost: mr.Host(), RedisPort: port})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLoadDataset(t *testing.T) {
	ds, err := LoadDataset(fixture)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC), ds.Usage.Timestamp.UTC())
	require.Len(t, ds.Usage.Snapshots, 3)
	alice := ds.Usage.Snapshots[0]
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, 4.0, alice.TotalGPUs)
	assert.Equal(t, int64(1200), alice.IOOperations)
	assert.Equal(t, []types.HostUsage{{Host: "tikgpu10", CPUs: 16, MemoryGB: 64, GPUs: 4}}, alice.Hosts)

	require.Len(t, ds.Theses, 2)
	assert.Equal(t, []string{"prof_x", "prof_y"}, ds.Theses[0].Supervisors)
	assert.Equal(t, types.UserInfo{Username: "prof_x", Role: "staff", Email: "prof_x@example.org"}, ds.Users[2])
	assert.Equal(t, "not a reservation", ds.Reservations[2])
}

func TestLoadDataset_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	ds, err := LoadDataset(path)
	require.NoError(t, err)
	assert.NotNil(t, ds.Usage.Snapshots)
	assert.NotNil(t, ds.Theses)
	assert.NotNil(t, ds.Users)
	assert.NotNil(t, ds.Reservations)
}

func TestLoadDataset_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theses: [unterminated\n"), 0o644))

	_, err := LoadDataset(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse dataset")
}

func TestFileSource(t *testing.T) {
	src := NewFileSource(fixture)
	ctx := context.Background()
	assert.Equal(t, "file", src.Name())

	report, err := src.CurrentUsage(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Snapshots, 3)

	theses, err := src.Theses(ctx)
	require.NoError(t, err)
	assert.Len(t, theses, 2)

	users, err := src.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	lines, err := src.ReservationLines(ctx)
	require.NoError(t, err)
	assert.Len(t, lines, 3)

	assert.NoError(t, src.Close())
}

func TestFileSource_MissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := src.Theses(context.Background())
	require.Error(t, err)

	var missing *MissingDataError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "file", missing.Source)
	assert.Equal(t, "theses", missing.What)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileSource(fixture).CurrentUsage(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisSource(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	ds, err := LoadDataset(fixture)
	require.NoError(t, err)
	require.NoError(t, Import(ctx, client, ds, false))

	src := NewRedisSource(client)
	assert.Equal(t, "redis", src.Name())

	report, err := src.CurrentUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, ds.Usage.Snapshots, report.Snapshots)

	theses, err := src.Theses(ctx)
	require.NoError(t, err)
	assert.Equal(t, ds.Theses, theses)

	users, err := src.Users(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ds.Users, users)

	lines, err := src.ReservationLines(ctx)
	require.NoError(t, err)
	assert.Equal(t, ds.Reservations, lines)
}

func TestRedisSource_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	client := redis_client.NewClient(&types.Config{RedisHost: mr.Host(), RedisPort: port})
	mr.Close()

	src := NewRedisSource(client)
	defer src.Close()

	_, err = src.CurrentUsage(context.Background())
	require.Error(t, err)

	var missing *MissingDataError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "redis", missing.Source)
	assert.Equal(t, "usage", missing.What)
}

func TestImport_RefusesOverwriteWithoutForce(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	ds, err := LoadDataset(fixture)
	require.NoError(t, err)
	require.NoError(t, Import(ctx, client, ds, false))

	err = Import(ctx, client, &Dataset{Reservations: []string{"carol @ 1x tikgpu01"}}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, Import(ctx, client, &Dataset{Reservations: []string{"carol @ 1x tikgpu01"}}, true))

	lines, err := client.GetReservationLines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol @ 1x tikgpu01"}, lines)

	theses, err := client.GetTheses(ctx)
	require.NoError(t, err)
	assert.Empty(t, theses)
}

func TestImport_LogsThroughClientLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	client := newTestClient(t).WithLogger(logger)

	ds, err := LoadDataset(fixture)
	require.NoError(t, err)
	require.NoError(t, Import(context.Background(), client, ds, false))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Imported dataset", entry.Message)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 3, entry.Data["snapshots"])
	assert.Equal(t, false, entry.Data["force"])
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(&types.Config{Source: types.SourceFile, DataFile: fixture})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)

	src, err = NewSource(&types.Config{Source: types.SourceRedis, RedisHost: "localhost", RedisPort: 6379})
	require.NoError(t, err)
	assert.IsType(t, &RedisSource{}, src)
	src.Close()

	_, err = NewSource(&types.Config{Source: types.SourceFile})
	assert.Error(t, err)

	_, err = NewSource(&types.Config{Source: "ldap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}
