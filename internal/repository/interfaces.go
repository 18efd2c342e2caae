package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"projectzero/internal/cache"
	"projectzero/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	// UpsertFederated inserts the user on first sign-in and refreshes the
	// verification flag afterwards. created reports which happened.
	UpsertFederated(ctx context.Context, user *model.User) (created bool, err error)
	UpdateProfile(ctx context.Context, user *model.User) error
	SearchByName(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error)
	GetSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error)
	Suggested(ctx context.Context, viewerID string, limit int) ([]model.UserSummary, error)
	IncrementFollowerCount(ctx context.Context, tx *sqlx.Tx, userID string, delta int) error
	IncrementFollowingCount(ctx context.Context, tx *sqlx.Tx, userID string, delta int) error
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *model.RefreshToken) (bool, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, userID string) (int64, error)
}

type FollowRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, followerID, followeeID string) (bool, error)
	Delete(ctx context.Context, tx *sqlx.Tx, followerID, followeeID string) error
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	GetFollowers(ctx context.Context, userID string, cursor *time.Time, limit int) ([]model.UserSummary, *time.Time, error)
	GetFollowing(ctx context.Context, userID string, cursor *time.Time, limit int) ([]model.UserSummary, *time.Time, error)
	CheckFollows(ctx context.Context, followerID string, followeeIDs []string) (map[string]bool, error)
	GetFollowerIDs(ctx context.Context, userID string) ([]string, error)
	GetFolloweeIDs(ctx context.Context, userID string) ([]string, error)
	// Consistency reads the user's counters next to the live edge counts.
	Consistency(ctx context.Context, userID string) (*model.FollowConsistency, error)
}

type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, postID string) (*model.Post, error)
	GetByIDs(ctx context.Context, postIDs []string) ([]model.Post, error)
	Update(ctx context.Context, postID string, upd model.PostUpdate) error
	SoftDelete(ctx context.Context, postID string) error
	ListByAuthor(ctx context.Context, authorID string, cursor *string, limit int) ([]model.Post, *string, error)
	ListGlobal(ctx context.Context, limit int) ([]model.Post, error)
	GetRecentPostsByUser(ctx context.Context, userID string, limit int) ([]cache.PostScore, error)
	GetFeedPostIDs(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error)
	GetDayNumbers(ctx context.Context, authorID string) ([]int, error)
	// LockForUpdate takes a row lock on a live post and returns its author.
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, postID string) (authorID string, err error)
	// ToggleLike flips userID's membership in the post's like set. The caller must
	// hold the post row lock.
	ToggleLike(ctx context.Context, tx *sqlx.Tx, postID, userID string) (*model.LikeResult, error)
	IncrementCommentCount(ctx context.Context, tx *sqlx.Tx, postID string, delta int) error
}

type CommentRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, comment *model.Comment) error
	GetByID(ctx context.Context, commentID string) (*model.Comment, error)
	ListByPost(ctx context.Context, postID string) ([]model.Comment, error)
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, commentID string) (*model.Comment, error)
	ToggleLike(ctx context.Context, tx *sqlx.Tx, commentID, userID string) (*model.LikeResult, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	List(ctx context.Context, recipientID string, limit int) ([]model.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

type ChatRepository interface {
	// EnsureThread inserts the thread if its id is unused and loads the stored row
	// into thread either way.
	EnsureThread(ctx context.Context, thread *model.ChatThread) (created bool, err error)
	GetThread(ctx context.Context, threadID string) (*model.ChatThread, error)
	LockThread(ctx context.Context, tx *sqlx.Tx, threadID string) (*model.ChatThread, error)
	CreateMessage(ctx context.Context, tx *sqlx.Tx, msg *model.Message) error
	TouchThread(ctx context.Context, tx *sqlx.Tx, threadID, lastText, senderID string, at time.Time) error
	ListThreads(ctx context.Context, userID string) ([]model.ChatThread, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, threadID, readerID string) (int64, error)
}

type DeviceTokenRepository interface {
	Upsert(ctx context.Context, userID, token, platform string) error
	GetTokens(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, userID, token string) error
	Purge(ctx context.Context, tokens []string) (int64, error)
}
