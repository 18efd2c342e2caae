package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"projectzero/internal/cache"
	"projectzero/internal/queue"
)

const (
	// posts copied into a new follower's feed
	backfillLimit = 20
	// posts pulled back out of a feed on unfollow
	removeLimit = 100
)

// ErrUnknownEvent marks an event no handler understands. Redelivering it cannot help.
var ErrUnknownEvent = errors.New("unknown event type")

// FollowerProvider lists who follows a user. It keeps the worker off the database.
type FollowerProvider interface {
	GetFollowerIDs(ctx context.Context, userID string) ([]string, error)
}

// RecentPostsProvider returns an author's newest live posts as feed entries.
type RecentPostsProvider interface {
	GetRecentPostsByUser(ctx context.Context, userID string, limit int) ([]cache.PostScore, error)
}

type DeviceTokenProvider interface {
	GetTokens(ctx context.Context, userID string) ([]string, error)
	Purge(ctx context.Context, tokens []string) (int64, error)
}

// PushSender delivers one notification to a set of device tokens and reports the
// tokens that are no longer registered.
type PushSender interface {
	SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error)
}

// Handler applies stream events to the follow-feed caches and delivers push.
type Handler struct {
	feeds     cache.FeedCache
	followers FollowerProvider
	posts     RecentPostsProvider

	// nil when push is not configured
	tokens DeviceTokenProvider
	push   PushSender
}

func NewHandler(feeds cache.FeedCache, followers FollowerProvider, posts RecentPostsProvider) *Handler {
	return &Handler{feeds: feeds, followers: followers, posts: posts}
}

// SetPush enables delivery of notification_created events.
func (h *Handler) SetPush(tokens DeviceTokenProvider, push PushSender) {
	h.tokens = tokens
	h.push = push
}

func (h *Handler) HandleEvent(ctx context.Context, event queue.Event) error {
	start := time.Now()

	var err error
	switch event.Type {
	case queue.EventPostCreated:
		err = h.postCreated(ctx, event)
	case queue.EventPostDeleted:
		err = h.postDeleted(ctx, event)
	case queue.EventUserFollowed:
		err = h.userFollowed(ctx, event)
	case queue.EventUserUnfollowed:
		err = h.userUnfollowed(ctx, event)
	case queue.EventNotificationCreated:
		err = h.notificationCreated(ctx, event)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, event.Type)
	}

	if err != nil {
		log.Printf("[Worker] %s FAILED after %v: %v", event.Type, time.Since(start), err)
		return err
	}
	log.Printf("[Worker] %s OK in %v", event.Type, time.Since(start))
	return nil
}

// audience is everyone whose follow feed shows the author's posts: the followers
// and the author.
func (h *Handler) audience(ctx context.Context, authorID string) ([]string, error) {
	followers, err := h.followers.GetFollowerIDs(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("followers of %s: %w", authorID, err)
	}
	return append(followers, authorID), nil
}

// each applies fn to every item and keeps going past failures. A feed that misses
// one write is rebuilt from SQL the next time it is warmed.
func each[T any](op string, items []T, fn func(T) error) {
	failed := 0
	for _, item := range items {
		if err := fn(item); err != nil {
			log.Printf("[Worker] %s: %v", op, err)
			failed++
		}
	}
	log.Printf("[Worker] %s: applied=%d failed=%d", op, len(items)-failed, failed)
}

func (h *Handler) postCreated(ctx context.Context, e queue.Event) error {
	users, err := h.audience(ctx, e.AuthorID)
	if err != nil {
		return err
	}
	each("fan out post "+e.PostID, users, func(userID string) error {
		return h.feeds.AddPost(ctx, userID, e.PostID, e.Timestamp)
	})
	return nil
}

func (h *Handler) postDeleted(ctx context.Context, e queue.Event) error {
	users, err := h.audience(ctx, e.AuthorID)
	if err != nil {
		return err
	}
	each("retract post "+e.PostID, users, func(userID string) error {
		return h.feeds.RemovePost(ctx, userID, e.PostID)
	})
	return nil
}

// userFollowed backfills the follower's feed with the followee's recent posts.
func (h *Handler) userFollowed(ctx context.Context, e queue.Event) error {
	posts, err := h.posts.GetRecentPostsByUser(ctx, e.FolloweeID, backfillLimit)
	if err != nil {
		return fmt.Errorf("recent posts of %s: %w", e.FolloweeID, err)
	}
	each("backfill feed of "+e.FollowerID, posts, func(p cache.PostScore) error {
		return h.feeds.AddPost(ctx, e.FollowerID, p.PostID, p.Timestamp)
	})
	return nil
}

func (h *Handler) userUnfollowed(ctx context.Context, e queue.Event) error {
	posts, err := h.posts.GetRecentPostsByUser(ctx, e.FolloweeID, removeLimit)
	if err != nil {
		return fmt.Errorf("recent posts of %s: %w", e.FolloweeID, err)
	}
	each("prune feed of "+e.FollowerID, posts, func(p cache.PostScore) error {
		return h.feeds.RemovePost(ctx, e.FollowerID, p.PostID)
	})
	return nil
}

// notificationCreated pushes the notification to the recipient's devices and
// forgets the ones the push provider rejected as unregistered.
func (h *Handler) notificationCreated(ctx context.Context, e queue.Event) error {
	if h.push == nil || h.tokens == nil {
		return nil
	}

	tokens, err := h.tokens.GetTokens(ctx, e.RecipientID)
	if err != nil {
		return fmt.Errorf("devices of %s: %w", e.RecipientID, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	data := map[string]string{"notification_id": e.NotificationID}
	if e.PostID != "" {
		data["post_id"] = e.PostID
	}
	stale, err := h.push.SendToTokens(ctx, tokens, e.Title, e.Body, data)
	if len(stale) > 0 {
		if n, perr := h.tokens.Purge(ctx, stale); perr != nil {
			log.Printf("[Worker] purge stale devices of %s: %v", e.RecipientID, perr)
		} else {
			log.Printf("[Worker] purged %d stale devices of %s", n, e.RecipientID)
		}
	}
	if err != nil {
		return fmt.Errorf("push to %s: %w", e.RecipientID, err)
	}
	return nil
}
