// Package kv provides the minimal Redis surface the enrichment core needs:
// get/set/del with TTL (blueprints, blacklist entries), list operations for
// the mission queues, hash operations for provider/run state, set
// operations for the poison tracker, the mapping queue and carrier lists,
// and pub/sub for mapping-required alerts.
//
// The client is constructed once (in main) and passed into every component
// that needs it — no package-level singleton, no lazily-initialized global.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a *redis.Client with the narrow surface the pipeline uses.
type Client struct {
	rdb *redis.Client
}

// New creates a Client from a redis:// URL.
func New(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Client{rdb: redis.NewClient(opt)}, nil
}

// FromRedisClient wraps an already-constructed *redis.Client (used by tests
// wiring a miniredis instance).
func FromRedisClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Raw exposes the underlying client for operations this wrapper doesn't
// cover (e.g. a health poller's Ping).
func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// --- string ---

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// --- list ---

func (c *Client) LPush(ctx context.Context, key string, value string) error {
	return c.rdb.LPush(ctx, key, value).Err()
}

// BRPop blocks up to timeout waiting for an element on key. Returns ("",
// false, nil) on timeout (not an error — callers branch on the bool).
func (c *Client) BRPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	res, err := c.rdb.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BRPop returns [key, value].
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

func (c *Client) LRem(ctx context.Context, key string, count int64, value string) error {
	return c.rdb.LRem(ctx, key, count, value).Err()
}

// --- hash ---

func (c *Client) HSet(ctx context.Context, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return c.rdb.HSet(ctx, key, fields).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// --- set ---

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, key, args...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) SRem(ctx context.Context, key string, member string) error {
	return c.rdb.SRem(ctx, key, member).Err()
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.SCard(ctx, key).Result()
}

// --- pub/sub ---

func (c *Client) Publish(ctx context.Context, channel, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe returns a *redis.PubSub; callers are responsible for closing it.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channel)
}
