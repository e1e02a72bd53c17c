package leaderboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/practice-arena/backend/internal/models"
)

const (
	// KeyPrefix is prepended to the week's date to form the ZSet key.
	KeyPrefix = "arena:leaderboard:"
	// CacheTTL keeps a week's ranking around for late reads.
	CacheTTL = 5 * 7 * 24 * time.Hour
)

// WeekKey returns the ZSet key of the week starting at weekStart.
func WeekKey(weekStart time.Time) string {
	return KeyPrefix + weekStart.UTC().Format("2006-01-02")
}

// RedisCache keeps each week's combined scores in a sorted set.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a ZSet-backed cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// completeMember marks a set loaded by Warm. Living in the same key, it is evicted with the set.
// Its score sits below any combined score.
const completeMember = "~complete"

// Update raises the scores of rows in the week's set, creating it when cold. Scores only grow
// during a week; GT keeps the highest seen.
func (c *RedisCache) Update(ctx context.Context, weekStart time.Time, rows []models.ArenaWeeklyStats) error {
	return c.write(ctx, WeekKey(weekStart), rows, false)
}

// Warm merges the full ranking of a week and marks the set complete.
func (c *RedisCache) Warm(ctx context.Context, weekStart time.Time, rows []models.ArenaWeeklyStats) error {
	return c.write(ctx, WeekKey(weekStart), rows, true)
}

func (c *RedisCache) write(ctx context.Context, key string, rows []models.ArenaWeeklyStats, complete bool) error {
	members := make([]redis.Z, 0, len(rows)+1)
	for _, r := range rows {
		members = append(members, redis.Z{Score: r.CombinedScore, Member: r.UserID.String()})
	}
	if complete {
		members = append(members, redis.Z{Score: -1, Member: completeMember})
	}
	if len(members) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.ZAddArgs(ctx, key, redis.ZAddArgs{GT: true, Members: members})
	pipe.Expire(ctx, key, CacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Top returns up to limit user ids, highest score first. ok is false until Warm has run.
func (c *RedisCache) Top(ctx context.Context, weekStart time.Time, limit int) ([]uuid.UUID, bool, error) {
	key := WeekKey(weekStart)
	pipe := c.client.Pipeline()
	marker := pipe.ZScore(ctx, key, completeMember)
	top := pipe.ZRevRange(ctx, key, 0, int64(limit))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, false, err
	}
	if marker.Err() != nil {
		return nil, false, nil
	}
	ids := make([]uuid.UUID, 0, limit)
	for _, member := range top.Val() {
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, true, nil
}
