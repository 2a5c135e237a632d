package provider

import (
	"context"

	"github.com/tikcluster/tikwatch/internal/redis_client"
	"github.com/tikcluster/tikwatch/internal/types"
)

// RedisSource reads imported data from the Redis store
type RedisSource struct {
	client *redis_client.Client
}

// NewRedisSource creates a source on top of an existing store client
func NewRedisSource(client *redis_client.Client) *RedisSource {
	return &RedisSource{client: client}
}

func (r *RedisSource) Name() string {
	return types.SourceRedis
}

// Client exposes the underlying store for history recording
func (r *RedisSource) Client() *redis_client.Client {
	return r.client
}

func (r *RedisSource) Close() error {
	return r.client.Close()
}

func (r *RedisSource) CurrentUsage(ctx context.Context) (*types.UsageReport, error) {
	report, err := r.client.GetUsageReport(ctx)
	if err != nil {
		return nil, r.missing("usage", err)
	}
	return report, nil
}

func (r *RedisSource) Theses(ctx context.Context) ([]types.ThesisRecord, error) {
	theses, err := r.client.GetTheses(ctx)
	if err != nil {
		return nil, r.missing("theses", err)
	}
	return theses, nil
}

func (r *RedisSource) Users(ctx context.Context) ([]types.UserInfo, error) {
	users, err := r.client.GetUsers(ctx)
	if err != nil {
		return nil, r.missing("users", err)
	}
	return users, nil
}

func (r *RedisSource) ReservationLines(ctx context.Context) ([]string, error) {
	lines, err := r.client.GetReservationLines(ctx)
	if err != nil {
		return nil, r.missing("reservations", err)
	}
	return lines, nil
}

func (r *RedisSource) missing(what string, err error) error {
	return &MissingDataError{Source: r.Name(), What: what, Err: err}
}
