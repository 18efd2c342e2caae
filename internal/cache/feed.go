package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// FeedCachePrefix is the key prefix for per-user following feeds
	FeedCachePrefix = "feed:user:"

	// FeedCacheCap is the maximum number of posts kept per user
	FeedCacheCap = 500

	// FeedCacheTTL is refreshed on every write and read
	FeedCacheTTL = 7 * 24 * time.Hour
)

// PostScore is a post id with its creation time in unix milliseconds.
type PostScore struct {
	PostID    string
	Timestamp int64
}

// Before reports whether p sorts after c in a newest-first feed. Posts created in
// the same millisecond fall back to descending post id, matching the order Redis
// gives equal scores.
func (p PostScore) Before(c PostScore) bool {
	if p.Timestamp != c.Timestamp {
		return p.Timestamp < c.Timestamp
	}
	return p.PostID < c.PostID
}

// FeedCache stores each user's following feed as a sorted set of post ids scored
// by creation time.
type FeedCache interface {
	// AddPost inserts a post, trims the set to FeedCacheCap and refreshes the TTL.
	AddPost(ctx context.Context, userID, postID string, timestamp int64) error

	RemovePost(ctx context.Context, userID, postID string) error

	// GetFeed returns up to limit entries newest first. With after set, only
	// entries that sort after it are returned (see PostScore.Before).
	GetFeed(ctx context.Context, userID string, after *PostScore, limit int) ([]PostScore, error)

	WarmCache(ctx context.Context, userID string, posts []PostScore) error

	// Exists is false for new users and expired keys; callers warm the cache then.
	Exists(ctx context.Context, userID string) (bool, error)
}

type RedisFeedCache struct {
	client *redis.Client
}

func NewFeedCache(client *redis.Client) FeedCache {
	return &RedisFeedCache{client: client}
}

func feedKey(userID string) string {
	return FeedCachePrefix + userID
}

func (c *RedisFeedCache) AddPost(ctx context.Context, userID, postID string, timestamp int64) error {
	key := feedKey(userID)
	startTime := time.Now()

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(timestamp), Member: postID})
	// rank 0 is the oldest entry; keep only the newest FeedCacheCap
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-FeedCacheCap-1))
	pipe.Expire(ctx, key, FeedCacheTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[FeedCache] AddPost FAILED: user=%s post=%s err=%v", userID, postID, err)
		return fmt.Errorf("add post to feed: %w", err)
	}

	log.Printf("[FeedCache] AddPost OK: user=%s post=%s timestamp=%d duration=%v",
		userID, postID, timestamp, time.Since(startTime))
	return nil
}

func (c *RedisFeedCache) RemovePost(ctx context.Context, userID, postID string) error {
	removed, err := c.client.ZRem(ctx, feedKey(userID), postID).Result()
	if err != nil {
		log.Printf("[FeedCache] RemovePost FAILED: user=%s post=%s err=%v", userID, postID, err)
		return fmt.Errorf("remove post from feed: %w", err)
	}

	log.Printf("[FeedCache] RemovePost OK: user=%s post=%s removed=%d", userID, postID, removed)
	return nil
}

func (c *RedisFeedCache) GetFeed(ctx context.Context, userID string, after *PostScore, limit int) ([]PostScore, error) {
	key := feedKey(userID)
	startTime := time.Now()

	var results []redis.Z
	var err error
	if after == nil {
		results, err = c.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	} else {
		results, err = c.pageAfter(ctx, key, *after, limit)
	}
	if err != nil {
		log.Printf("[FeedCache] GetFeed FAILED: user=%s err=%v", userID, err)
		return nil, fmt.Errorf("get feed: %w", err)
	}

	c.client.Expire(ctx, key, FeedCacheTTL)

	entries := make([]PostScore, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			log.Printf("[FeedCache] GetFeed unexpected member type: %T", z.Member)
			continue
		}
		entries = append(entries, PostScore{PostID: member, Timestamp: int64(z.Score)})
	}

	log.Printf("[FeedCache] GetFeed OK: user=%s returned=%d duration=%v",
		userID, len(entries), time.Since(startTime))
	return entries, nil
}

// pageAfter reads the rest of the cursor's millisecond, then older scores. Both
// ranges come back in one round trip.
func (c *RedisFeedCache) pageAfter(ctx context.Context, key string, after PostScore, limit int) ([]redis.Z, error) {
	score := strconv.FormatInt(after.Timestamp, 10)

	pipe := c.client.Pipeline()
	tiesCmd := pipe.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: score, Max: score})
	olderCmd := pipe.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + score,
		Count: int64(limit),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	results := make([]redis.Z, 0, limit)
	for _, z := range tiesCmd.Val() {
		if member, ok := z.Member.(string); ok && member < after.PostID {
			results = append(results, z)
		}
	}
	results = append(results, olderCmd.Val()...)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (c *RedisFeedCache) WarmCache(ctx context.Context, userID string, posts []PostScore) error {
	if len(posts) == 0 {
		return nil
	}

	key := feedKey(userID)
	startTime := time.Now()

	members := make([]redis.Z, len(posts))
	for i, p := range posts {
		members[i] = redis.Z{Score: float64(p.Timestamp), Member: p.PostID}
	}

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-FeedCacheCap-1))
	pipe.Expire(ctx, key, FeedCacheTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[FeedCache] WarmCache FAILED: user=%s posts=%d err=%v", userID, len(posts), err)
		return fmt.Errorf("warm cache: %w", err)
	}

	log.Printf("[FeedCache] WarmCache OK: user=%s posts=%d duration=%v",
		userID, len(posts), time.Since(startTime))
	return nil
}

func (c *RedisFeedCache) Exists(ctx context.Context, userID string) (bool, error) {
	exists, err := c.client.Exists(ctx, feedKey(userID)).Result()
	if err != nil {
		log.Printf("[FeedCache] Exists FAILED: user=%s err=%v", userID, err)
		return false, fmt.Errorf("check cache exists: %w", err)
	}
	return exists > 0, nil
}
