package provider

import (
	"context"
	"fmt"

	"github.com/tikcluster/tikwatch/internal/redis_client"
	"github.com/tikcluster/tikwatch/internal/types"
)

// UsageProvider returns the current per-user usage
type UsageProvider interface {
	CurrentUsage(ctx context.Context) (*types.UsageReport, error)
}

// ThesisDirectory returns all thesis records
type ThesisDirectory interface {
	Theses(ctx context.Context) ([]types.ThesisRecord, error)
}

// UserDirectory returns user entries for role lookups
type UserDirectory interface {
	Users(ctx context.Context) ([]types.UserInfo, error)
}

// ReservationFeed returns raw reservation lines in feed order
type ReservationFeed interface {
	ReservationLines(ctx context.Context) ([]string, error)
}

// Source bundles every external input the monitor consumes
type Source interface {
	UsageProvider
	ThesisDirectory
	UserDirectory
	ReservationFeed

	// Name returns the name of the source (e.g., "redis", "file")
	Name() string

	Close() error
}

// MissingDataError reports a failed provider call
type MissingDataError struct {
	Source string
	What   string
	Err    error
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("%s source: failed to fetch %s: %v", e.Source, e.What, e.Err)
}

func (e *MissingDataError) Unwrap() error {
	return e.Err
}

// NewSource creates the source selected by config.Source
func NewSource(config *types.Config) (Source, error) {
	switch config.Source {
	case types.SourceRedis, "":
		return NewRedisSource(redis_client.NewClient(config)), nil
	case types.SourceFile:
		if config.DataFile == "" {
			return nil, fmt.Errorf("source %q requires --data-file", types.SourceFile)
		}
		return NewFileSource(config.DataFile), nil
	default:
		return nil, fmt.Errorf("unknown source %q (expected %q or %q)", config.Source, types.SourceRedis, types.SourceFile)
	}
}
