package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSeriesClaimCache keeps one Redis set per day code holding the series codes
// already handed out. SADD is atomic, so two processes that draw the same candidate
// cannot both see a successful claim.
type RedisSeriesClaimCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSeriesClaimCache returns a Redis-backed claim cache, or a pass-through cache when rc is nil
func NewSeriesClaimCache(rc *redis.Client, prefix string, ttl time.Duration) SeriesClaimCache {
	if rc == nil {
		return noopSeriesClaimCache{}
	}
	return &RedisSeriesClaimCache{rc: rc, prefix: prefix, ttl: ttl}
}

func (c *RedisSeriesClaimCache) key(dayCode string) string {
	return fmt.Sprintf("%sseries:claimed:%s", c.prefix, dayCode)
}

// Claim adds series to the day's set; false means another caller claimed it first
func (c *RedisSeriesClaimCache) Claim(ctx context.Context, dayCode, series string) (bool, error) {
	key := c.key(dayCode)
	pipe := c.rc.TxPipeline()
	added := pipe.SAdd(ctx, key, series)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to claim series %s: %w", series, err)
	}
	return added.Val() == 1, nil
}

// Claimed returns the subset of series already present in the day's set
func (c *RedisSeriesClaimCache) Claimed(ctx context.Context, dayCode string, series []string) ([]string, error) {
	if len(series) == 0 {
		return nil, nil
	}
	members := make([]any, len(series))
	for i, s := range series {
		members[i] = s
	}
	flags, err := c.rc.SMIsMember(ctx, c.key(dayCode), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check %d claimed series: %w", len(series), err)
	}
	var out []string
	for i, ok := range flags {
		if ok {
			out = append(out, series[i])
		}
	}
	return out, nil
}

// ClaimedCount returns how many series were claimed for the day
func (c *RedisSeriesClaimCache) ClaimedCount(ctx context.Context, dayCode string) (int64, error) {
	n, err := c.rc.SCard(ctx, c.key(dayCode)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count claimed series: %w", err)
	}
	return n, nil
}

// Unclaim drops series from the day's set so they can be drawn again
func (c *RedisSeriesClaimCache) Unclaim(ctx context.Context, dayCode string, series []string) error {
	if len(series) == 0 {
		return nil
	}
	members := make([]any, len(series))
	for i, s := range series {
		members[i] = s
	}
	if err := c.rc.SRem(ctx, c.key(dayCode), members...).Err(); err != nil {
		return fmt.Errorf("failed to unclaim %d series: %w", len(series), err)
	}
	return nil
}

type noopSeriesClaimCache struct{}

func (noopSeriesClaimCache) Claim(context.Context, string, string) (bool, error) { return true, nil }

func (noopSeriesClaimCache) Claimed(context.Context, string, []string) ([]string, error) {
	return nil, nil
}

func (noopSeriesClaimCache) ClaimedCount(context.Context, string) (int64, error) { return 0, nil }

func (noopSeriesClaimCache) Unclaim(context.Context, string, []string) error { return nil }
