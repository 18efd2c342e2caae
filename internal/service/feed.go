package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"projectzero/internal/cache"
	"projectzero/internal/model"
	"projectzero/internal/repository"
)

const (
	FeedDefaultLimit = 10
	FeedMaxLimit     = 50

	// CacheWarmLimit bounds how many posts a cold feed is rebuilt from.
	CacheWarmLimit = 500
)

// FeedService serves the home feed: followed authors plus the user's own posts.
type FeedService struct {
	feedCache  cache.FeedCache // nil without Redis
	postRepo   repository.PostRepository
	followRepo repository.FollowRepository
}

func NewFeedService(
	feedCache cache.FeedCache,
	postRepo repository.PostRepository,
	followRepo repository.FollowRepository,
) *FeedService {
	return &FeedService{
		feedCache:  feedCache,
		postRepo:   postRepo,
		followRepo: followRepo,
	}
}

// GetFollowingFeed pages the home feed newest first. Post ids come from the
// per-user sorted set, which is warmed from SQL on a miss; without a cache the
// same ids are read from SQL directly.
func (s *FeedService) GetFollowingFeed(ctx context.Context, userID string, cursor *string, limit int) (*model.FeedResponse, error) {
	startTime := time.Now()
	limit = clampLimit(limit, FeedDefaultLimit, FeedMaxLimit)

	var after *cache.PostScore
	if cursor != nil && *cursor != "" {
		last, err := parseFeedCursor(*cursor)
		if err != nil {
			return nil, err
		}
		after = &last
	}

	entries, err := s.pageIDs(ctx, userID, after, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &model.FeedResponse{Posts: []model.Post{}}, nil
	}

	postIDs := make([]string, len(entries))
	for i, e := range entries {
		postIDs[i] = e.PostID
	}
	posts, err := s.postRepo.GetByIDs(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate posts: %w", err)
	}
	markLiked(posts, userID)

	var nextCursor *string
	hasMore := len(entries) == limit
	if hasMore {
		last := entries[len(entries)-1]
		c := formatFeedCursor(last.PostID, last.Timestamp)
		nextCursor = &c
	}

	log.Printf("[FeedService] GetFeed OK: user=%s posts=%d hasMore=%v duration=%v",
		userID, len(posts), hasMore, time.Since(startTime))

	return &model.FeedResponse{
		Posts:      posts,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (s *FeedService) pageIDs(ctx context.Context, userID string, after *cache.PostScore, limit int) ([]cache.PostScore, error) {
	if s.feedCache == nil {
		return s.pageFromDB(ctx, userID, after, limit)
	}

	exists, err := s.feedCache.Exists(ctx, userID)
	if err != nil {
		log.Printf("[FeedService] Cache check failed for user=%s: %v", userID, err)
		return s.pageFromDB(ctx, userID, after, limit)
	}
	if !exists {
		log.Printf("[FeedService] Cache miss for user=%s, warming...", userID)
		if err := s.warmCache(ctx, userID); err != nil {
			log.Printf("[FeedService] Cache warm failed for user=%s: %v", userID, err)
			return s.pageFromDB(ctx, userID, after, limit)
		}
	}

	entries, err := s.feedCache.GetFeed(ctx, userID, after, limit)
	if err != nil {
		log.Printf("[FeedService] GetFeed cache error: %v", err)
		return s.pageFromDB(ctx, userID, after, limit)
	}
	return entries, nil
}

func (s *FeedService) candidates(ctx context.Context, userID string) ([]cache.PostScore, error) {
	followeeIDs, err := s.followRepo.GetFolloweeIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get followee ids: %w", err)
	}
	followeeIDs = append(followeeIDs, userID)

	return s.postRepo.GetFeedPostIDs(ctx, followeeIDs, CacheWarmLimit)
}

func (s *FeedService) warmCache(ctx context.Context, userID string) error {
	startTime := time.Now()

	posts, err := s.candidates(ctx, userID)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}
	if err := s.feedCache.WarmCache(ctx, userID, posts); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}

	log.Printf("[FeedService] Cache warmed: user=%s posts=%d duration=%v",
		userID, len(posts), time.Since(startTime))
	return nil
}

func (s *FeedService) pageFromDB(ctx context.Context, userID string, after *cache.PostScore, limit int) ([]cache.PostScore, error) {
	posts, err := s.candidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	page := make([]cache.PostScore, 0, limit)
	for _, p := range posts {
		if after != nil && !p.Before(*after) {
			continue
		}
		page = append(page, p)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// parseFeedCursor reads an "id:timestamp" cursor back into the last entry served.
func parseFeedCursor(cursor string) (cache.PostScore, error) {
	idx := strings.LastIndex(cursor, ":")
	if idx <= 0 {
		return cache.PostScore{}, model.ErrInvalidCursor
	}
	ts, err := strconv.ParseInt(cursor[idx+1:], 10, 64)
	if err != nil {
		return cache.PostScore{}, fmt.Errorf("%w: %v", model.ErrInvalidCursor, err)
	}
	return cache.PostScore{PostID: cursor[:idx], Timestamp: ts}, nil
}

func formatFeedCursor(postID string, timestamp int64) string {
	return fmt.Sprintf("%s:%d", postID, timestamp)
}
