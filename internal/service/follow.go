package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"projectzero/internal/database"
	"projectzero/internal/model"
	"projectzero/internal/queue"
	"projectzero/internal/repository"
)

const (
	FollowListDefaultLimit = 20
	FollowListMaxLimit     = 100
)

type FollowService struct {
	txr        database.Transactor
	followRepo repository.FollowRepository
	userRepo   repository.UserRepository
	notifier   Notifier
	publisher  queue.Publisher
}

func NewFollowService(
	txr database.Transactor,
	followRepo repository.FollowRepository,
	userRepo repository.UserRepository,
	notifier Notifier,
	publisher queue.Publisher,
) *FollowService {
	return &FollowService{
		txr:        txr,
		followRepo: followRepo,
		userRepo:   userRepo,
		notifier:   notifier,
		publisher:  publisher,
	}
}

// Follow writes the edge and both counters in one transaction, so a failure at any
// step leaves neither side changed.
func (s *FollowService) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return model.ErrCannotFollowSelf
	}

	exists, err := s.userRepo.Exists(ctx, followeeID)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrUserNotFound
	}

	err = s.txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
		inserted, err := s.followRepo.Create(ctx, tx, followerID, followeeID)
		if err != nil {
			return err
		}
		if !inserted {
			return model.ErrAlreadyFollowing
		}
		if err := s.userRepo.IncrementFollowerCount(ctx, tx, followeeID, 1); err != nil {
			return err
		}
		return s.userRepo.IncrementFollowingCount(ctx, tx, followerID, 1)
	})
	if err != nil {
		return err
	}

	if _, err := s.notifier.Notify(ctx, model.NotifyInput{
		RecipientID: followeeID,
		SenderID:    followerID,
		Type:        model.NotificationTypeFollow,
	}); err != nil {
		log.Printf("[FollowService] Failed to notify follow: follower=%s followee=%s err=%v",
			followerID, followeeID, err)
	}

	event := queue.NewUserFollowedEvent(followerID, followeeID)
	msgID, err := s.publisher.Publish(ctx, queue.StreamFeed, event)
	if err != nil {
		log.Printf("[FollowService] Failed to publish UserFollowed event: follower=%s followee=%s err=%v",
			followerID, followeeID, err)
	} else {
		log.Printf("[FollowService] Published UserFollowed: follower=%s followee=%s msgID=%s",
			followerID, followeeID, msgID)
	}

	return nil
}

func (s *FollowService) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return model.ErrCannotFollowSelf
	}

	err := s.txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.followRepo.Delete(ctx, tx, followerID, followeeID); err != nil {
			return err
		}
		if err := s.userRepo.IncrementFollowerCount(ctx, tx, followeeID, -1); err != nil {
			return err
		}
		return s.userRepo.IncrementFollowingCount(ctx, tx, followerID, -1)
	})
	if err != nil {
		return err
	}

	event := queue.NewUserUnfollowedEvent(followerID, followeeID)
	msgID, err := s.publisher.Publish(ctx, queue.StreamFeed, event)
	if err != nil {
		log.Printf("[FollowService] Failed to publish UserUnfollowed event: follower=%s followee=%s err=%v",
			followerID, followeeID, err)
	} else {
		log.Printf("[FollowService] Published UserUnfollowed: follower=%s followee=%s msgID=%s",
			followerID, followeeID, msgID)
	}

	return nil
}

// ListFollowers pages the users following userID, newest edge first.
func (s *FollowService) ListFollowers(ctx context.Context, userID, viewerID string, cursor *string, limit int) (*model.FollowListResponse, error) {
	exists, err := s.userRepo.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.ErrUserNotFound
	}
	return s.list(ctx, s.followRepo.GetFollowers, userID, viewerID, cursor, limit)
}

// ListFollowing pages the users userID follows. The list is guarded by the owner's
// following privacy.
func (s *FollowService) ListFollowing(ctx context.Context, userID, viewerID string, cursor *string, limit int) (*model.FollowListResponse, error) {
	owner, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	isSelf := viewerID == userID
	isFollower := false
	if !isSelf && owner.FollowingPrivacy == model.PrivacyFollowers && viewerID != "" {
		if isFollower, err = s.followRepo.Exists(ctx, viewerID, userID); err != nil {
			return nil, err
		}
	}
	if !canView(owner.FollowingPrivacy, isSelf, isFollower) {
		return nil, model.ErrPrivacyRestricted
	}

	return s.list(ctx, s.followRepo.GetFollowing, userID, viewerID, cursor, limit)
}

type edgeLister func(ctx context.Context, userID string, cursor *time.Time, limit int) ([]model.UserSummary, *time.Time, error)

func (s *FollowService) list(ctx context.Context, fetch edgeLister, userID, viewerID string, cursor *string, limit int) (*model.FollowListResponse, error) {
	limit = clampLimit(limit, FollowListDefaultLimit, FollowListMaxLimit)

	var cursorTime *time.Time
	if cursor != nil && *cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, *cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidCursor, err)
		}
		cursorTime = &t
	}

	users, nextCursor, err := fetch(ctx, userID, cursorTime, limit)
	if err != nil {
		return nil, err
	}

	if viewerID != "" {
		users = s.enrichWithFollowStatus(ctx, viewerID, users)
	}

	var nextCursorStr *string
	if nextCursor != nil {
		str := nextCursor.Format(time.RFC3339Nano)
		nextCursorStr = &str
	}

	return &model.FollowListResponse{
		Users:      users,
		NextCursor: nextCursorStr,
		HasMore:    nextCursor != nil,
	}, nil
}

// enrichWithFollowStatus marks which listed users the viewer follows with one batch
// lookup. On failure the list is returned unmarked.
func (s *FollowService) enrichWithFollowStatus(ctx context.Context, viewerID string, users []model.UserSummary) []model.UserSummary {
	if len(users) == 0 {
		return users
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	followStatus, err := s.followRepo.CheckFollows(ctx, viewerID, ids)
	if err != nil {
		log.Printf("[FollowService] Failed to check follow status: %v", err)
		return users
	}

	for i := range users {
		users[i].IsFollowing = followStatus[users[i].ID]
	}
	return users
}

// CheckConsistency compares the user's counters with the edge table.
func (s *FollowService) CheckConsistency(ctx context.Context, userID string) (*model.FollowConsistency, error) {
	c, err := s.followRepo.Consistency(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.Evaluate()
	if !c.Symmetric {
		log.Printf("[FollowService] Follow counters drifted: user=%s followers=%d/%d following=%d/%d",
			userID, c.FollowerCount, c.FollowerEdgeCount, c.FollowingCount, c.FollowingEdgeCount)
	}
	return c, nil
}
