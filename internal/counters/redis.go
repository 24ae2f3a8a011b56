package counters

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisCounters keeps hot engagement counters in Redis: views as an INCR
// counter and likes as a per-item set so each user counts once. Deployments
// that want counters off the primary database select this implementation via
// configuration.
type RedisCounters struct {
	client *redis.Client
}

var _ Counters = (*RedisCounters)(nil)

// NewRedisCounters creates Redis-backed counters.
func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (c *RedisCounters) RecordView(ctx context.Context, itemID string) error {
	return c.client.Incr(ctx, viewKey(itemID)).Err()
}

func (c *RedisCounters) Like(ctx context.Context, itemID, userID string) (bool, error) {
	added, err := c.client.SAdd(ctx, likeKey(itemID), userID).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

// Views reads the current view count, for reconciliation back onto the item
// record.
func (c *RedisCounters) Views(ctx context.Context, itemID string) (int64, error) {
	n, err := c.client.Get(ctx, viewKey(itemID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Likes reads the current like count.
func (c *RedisCounters) Likes(ctx context.Context, itemID string) (int64, error) {
	return c.client.SCard(ctx, likeKey(itemID)).Result()
}

func viewKey(itemID string) string { return fmt.Sprintf("item:%s:views", itemID) }
func likeKey(itemID string) string { return fmt.Sprintf("item:%s:likes", itemID) }
