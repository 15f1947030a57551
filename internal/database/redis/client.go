// Package redis provides the Redis cache for gocoal services.
// It holds proof snapshots, event counters, a per-resource leaderboard and
// the per-authority submission rate limit.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a cached entry is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Client wraps Redis operations for the ledger
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns connection settings for url
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		PoolSize:     16,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers

func proofKey(resource, authority string) string {
	return fmt.Sprintf("proof:%s:%s", resource, authority)
}

func leaderboardKey(resource string) string {
	return fmt.Sprintf("leaderboard:%s", resource)
}

func rateLimitKey(resource, authority string, window time.Duration, now time.Time) string {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("ratelimit:%s:%s:%d", resource, authority, now.Unix()/secs)
}

// Proof snapshots

// SetProofSnapshot caches the latest view of an authority's proof
func (c *Client) SetProofSnapshot(ctx context.Context, resource, authority string, snapshot any, expiration time.Duration) error {
	return c.SetCache(ctx, proofKey(resource, authority), snapshot, expiration)
}

// GetProofSnapshot reads a cached proof view into dest
func (c *Client) GetProofSnapshot(ctx context.Context, resource, authority string, dest any) error {
	return c.GetCache(ctx, proofKey(resource, authority), dest)
}

// Leaderboard

// AddReward credits amount to authority on the resource leaderboard
func (c *Client) AddReward(ctx context.Context, resource, authority string, amount uint64) error {
	if err := c.rdb.ZIncrBy(ctx, leaderboardKey(resource), float64(amount), authority).Err(); err != nil {
		return fmt.Errorf("failed to update leaderboard: %w", err)
	}
	return nil
}

// LeaderboardEntry is one ranked authority
type LeaderboardEntry struct {
	Authority string  `json:"authority"`
	Rewards   float64 `json:"rewards"`
}

// TopMiners returns the n highest earners on resource
func (c *Client) TopMiners(ctx context.Context, resource string, n int64) ([]LeaderboardEntry, error) {
	zs, err := c.rdb.ZRevRangeWithScores(ctx, leaderboardKey(resource), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	entries := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{Authority: member, Rewards: z.Score})
	}
	return entries, nil
}

// Statistics and counters

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	if expiration > 0 {
		pipe.Expire(ctx, key, expiration)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// Rate limiting

// AllowSubmission counts one submission by authority in the current fixed
// window and reports whether it is within limit.
func (c *Client) AllowSubmission(ctx context.Context, resource, authority string, limit int64, window time.Duration) (bool, error) {
	return c.CheckRateLimit(ctx, rateLimitKey(resource, authority, window, time.Now()), limit, window)
}

// CheckRateLimit checks if an action is rate limited
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	return incrCmd.Val() <= limit, nil
}

// Caching

// SetCache stores data in cache with expiration
func (c *Client) SetCache(ctx context.Context, key string, data any, expiration time.Duration) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	cacheKey := fmt.Sprintf("cache:%s", key)
	if err := c.rdb.Set(ctx, cacheKey, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// GetCache retrieves data from cache
func (c *Client) GetCache(ctx context.Context, key string, dest any) error {
	cacheKey := fmt.Sprintf("cache:%s", key)
	jsonData, err := c.rdb.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache: %w", err)
	}

	if err := json.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return nil
}
