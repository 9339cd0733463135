package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCmd is the slice of the redis client the cache needs; tests supply
// a fake.
type RedisCmd interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RefScoreCache stores each asset's latest final score in redis so
// the cross-asset adjuster can read the reference asset's opinion without
// re-running its pipeline. Entries expire; a stale reference is treated as
// absent, never blended.
type RefScoreCache struct {
	rdb RedisCmd
	ttl time.Duration
}

func NewRefScoreCache(rdb RedisCmd, ttl time.Duration) *RefScoreCache {
	return &RefScoreCache{rdb: rdb, ttl: ttl}
}

func refScoreKey(symbol string) string {
	return "signalengine:refscore:" + symbol
}

// Publish records the asset's latest score with the configured TTL.
func (c *RefScoreCache) Publish(ctx context.Context, symbol string, score float64) error {
	if err := c.rdb.Set(ctx, refScoreKey(symbol), strconv.FormatFloat(score, 'f', -1, 64), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish reference score for %s: %w", symbol, err)
	}
	return nil
}

// Score returns the cached score for an asset; ok is false when no fresh
// entry exists.
func (c *RefScoreCache) Score(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := c.rdb.Get(ctx, refScoreKey(symbol)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read reference score for %s: %w", symbol, err)
	}
	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Warn().Str("symbol", symbol).Str("value", val).Msg("corrupt reference score entry")
		return 0, false, nil
	}
	return score, true, nil
}
