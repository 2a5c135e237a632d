package redis_client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/tikcluster/tikwatch/internal/types"
)

type Client struct {
	rdb     *redis.Client
	log     logrus.FieldLogger
	backoff func(attempt int) time.Duration
}

func NewClient(config *types.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort),
		DB:   config.RedisDB,
	})

	return &Client{
		rdb:     rdb,
		log:     logrus.StandardLogger(),
		backoff: lockBackoff,
	}
}

// WithLogger replaces the logger used for store warnings
func (c *Client) WithLogger(log logrus.FieldLogger) *Client {
	c.log = log
	return c
}

// Logger returns the logger used for store warnings
func (c *Client) Logger() logrus.FieldLogger {
	return c.log
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Usage

func (c *Client) SetUsageReport(ctx context.Context, report *types.UsageReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, types.RedisKeyUsage, data, 0).Err()
}

// GetUsageReport returns the stored usage report, or an empty report when none was imported
func (c *Client) GetUsageReport(ctx context.Context) (*types.UsageReport, error) {
	val, err := c.rdb.Get(ctx, types.RedisKeyUsage).Result()
	if err == redis.Nil {
		return &types.UsageReport{Snapshots: []types.UsageSnapshot{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var report types.UsageReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, fmt.Errorf("corrupted usage report: %w", err)
	}
	return &report, nil
}

// Theses

func (c *Client) SetTheses(ctx context.Context, theses []types.ThesisRecord) error {
	data, err := json.Marshal(theses)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, types.RedisKeyTheses, data, 0).Err()
}

func (c *Client) GetTheses(ctx context.Context) ([]types.ThesisRecord, error) {
	val, err := c.rdb.Get(ctx, types.RedisKeyTheses).Result()
	if err == redis.Nil {
		return []types.ThesisRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	var theses []types.ThesisRecord
	if err := json.Unmarshal([]byte(val), &theses); err != nil {
		return nil, fmt.Errorf("corrupted thesis directory: %w", err)
	}
	return theses, nil
}

// Users

// SetUsers replaces the user directory hash
func (c *Client) SetUsers(ctx context.Context, users []types.UserInfo) error {
	values := make(map[string]interface{}, len(users))
	for _, u := range users {
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		values[u.Username] = string(data)
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, types.RedisKeyUsers)
		if len(values) > 0 {
			pipe.HSet(ctx, types.RedisKeyUsers, values)
		}
		return nil
	})
	return err
}

func (c *Client) GetUsers(ctx context.Context) ([]types.UserInfo, error) {
	entries, err := c.rdb.HGetAll(ctx, types.RedisKeyUsers).Result()
	if err != nil {
		return nil, err
	}

	users := make([]types.UserInfo, 0, len(entries))
	for username, raw := range entries {
		var u types.UserInfo
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			c.log.WithError(err).WithField("username", username).Warn("Skipping corrupted user entry")
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Reservation feed

// SetReservationLines replaces the raw reservation feed, keeping line order
func (c *Client) SetReservationLines(ctx context.Context, lines []string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, types.RedisKeyReservationFeed)
		if len(lines) > 0 {
			members := make([]interface{}, len(lines))
			for i, l := range lines {
				members[i] = l
			}
			pipe.RPush(ctx, types.RedisKeyReservationFeed, members...)
		}
		return nil
	})
	return err
}

// AppendReservationLine adds one line to the end of the feed
func (c *Client) AppendReservationLine(ctx context.Context, line string) error {
	return c.rdb.RPush(ctx, types.RedisKeyReservationFeed, line).Err()
}

func (c *Client) GetReservationLines(ctx context.Context) ([]string, error) {
	return c.rdb.LRange(ctx, types.RedisKeyReservationFeed, 0, -1).Result()
}

// Import lock

func lockBackoff(attempt int) time.Duration {
	// Exponential backoff with jitter
	return time.Duration(1<<attempt)*time.Second + time.Duration(rand.Intn(1000))*time.Millisecond
}

// AcquireImportLock serializes dataset imports across processes
func (c *Client) AcquireImportLock(ctx context.Context) error {
	for attempt := 0; attempt < types.MaxLockRetries; attempt++ {
		acquired, err := c.rdb.SetNX(ctx, types.RedisKeyImportLock, "locked", types.LockTimeout).Result()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}

	return fmt.Errorf("failed to acquire import lock after %d attempts", types.MaxLockRetries)
}

func (c *Client) ReleaseImportLock(ctx context.Context) error {
	return c.rdb.Del(ctx, types.RedisKeyImportLock).Err()
}

// HasData reports whether a dataset was already imported
func (c *Client) HasData(ctx context.Context) (bool, error) {
	n, err := c.rdb.Exists(ctx, types.RedisKeyUsage, types.RedisKeyTheses, types.RedisKeyUsers, types.RedisKeyReservationFeed).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearAll removes every tikwatch key (for import --force)
func (c *Client) ClearAll(ctx context.Context) error {
	keys, err := c.rdb.Keys(ctx, types.RedisKeyPrefix+"*").Result()
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		return c.rdb.Del(ctx, keys...).Err()
	}

	return nil
}

// History

// RecordReservationActivity stores the outcome of a reservation activity check
func (c *Client) RecordReservationActivity(ctx context.Context, record *types.ActivityRecord) error {
	return c.recordHistory(ctx, types.RedisKeyReservationHistory, record.Timestamp.ToTime(), record)
}

// GetReservationActivity retrieves activity records for the specified time range
func (c *Client) GetReservationActivity(ctx context.Context, startTime, endTime time.Time) ([]*types.ActivityRecord, error) {
	results, err := c.historyRange(ctx, types.RedisKeyReservationHistory, startTime, endTime)
	if err != nil {
		return nil, err
	}

	var records []*types.ActivityRecord
	for _, result := range results {
		var record types.ActivityRecord
		if err := json.Unmarshal([]byte(result), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

// RecordUsageAlert stores a raised usage alert
func (c *Client) RecordUsageAlert(ctx context.Context, alert *types.UsageAlert) error {
	return c.recordHistory(ctx, types.RedisKeyAlertHistory, alert.Timestamp.ToTime(), alert)
}

// GetUsageAlerts retrieves alerts raised in the specified time range
func (c *Client) GetUsageAlerts(ctx context.Context, startTime, endTime time.Time) ([]*types.UsageAlert, error) {
	results, err := c.historyRange(ctx, types.RedisKeyAlertHistory, startTime, endTime)
	if err != nil {
		return nil, err
	}

	var alerts []*types.UsageAlert
	for _, result := range results {
		var alert types.UsageAlert
		if err := json.Unmarshal([]byte(result), &alert); err != nil {
			continue
		}
		alerts = append(alerts, &alert)
	}
	return alerts, nil
}

func (c *Client) recordHistory(ctx context.Context, key string, at time.Time, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := c.rdb.ZAdd(ctx, key, &redis.Z{
		Score:  float64(at.Unix()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to sorted set: %w", err)
	}

	if err := c.rdb.Expire(ctx, key, types.HistoryRetention).Err(); err != nil {
		// Expiration might already be set
		c.log.WithError(err).WithField("key", key).Warn("Failed to set history expiration")
	}

	// Trim entries that fell out of the retention window
	cutoff := at.Add(-types.HistoryRetention).Unix()
	if err := c.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Failed to trim history")
	}

	return nil
}

func (c *Client) historyRange(ctx context.Context, key string, startTime, endTime time.Time) ([]string, error) {
	results, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", startTime.Unix()),
		Max: fmt.Sprintf("%d", endTime.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query sorted set: %w", err)
	}
	return results, nil
}
