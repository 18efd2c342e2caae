package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"projectzero/internal/model"
	"projectzero/internal/queue"
	"projectzero/internal/realtime"
	"projectzero/internal/repository"
)

// NotificationService appends notifications and fans them out to the realtime hub
// and, through the feed stream, to push delivery.
type NotificationService struct {
	notifRepo repository.NotificationRepository
	tokenRepo repository.DeviceTokenRepository
	userRepo  repository.UserRepository
	publisher queue.Publisher
	realtime  Broadcaster
}

func NewNotificationService(
	notifRepo repository.NotificationRepository,
	tokenRepo repository.DeviceTokenRepository,
	userRepo repository.UserRepository,
	publisher queue.Publisher,
	realtime Broadcaster,
) *NotificationService {
	return &NotificationService{
		notifRepo: notifRepo,
		tokenRepo: tokenRepo,
		userRepo:  userRepo,
		publisher: publisher,
		realtime:  broadcasterOrNop(realtime),
	}
}

// Notify records one notification for the recipient. A sender never notifies
// themselves; that case returns nil, nil.
func (s *NotificationService) Notify(ctx context.Context, in model.NotifyInput) (*model.Notification, error) {
	if in.SenderID == in.RecipientID {
		return nil, nil
	}

	n := &model.Notification{
		ID:          uuid.NewString(),
		RecipientID: in.RecipientID,
		SenderID:    in.SenderID,
		Type:        in.Type,
		Text:        in.Text,
		PostID:      in.PostID,
	}
	if err := s.notifRepo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if sender, err := s.userRepo.GetByID(ctx, in.SenderID); err == nil {
		n.SenderName = sender.DisplayName
		n.SenderAvatar = sender.AvatarURL
	} else {
		log.Printf("[NotificationService] Failed to load sender %s: %v", in.SenderID, err)
	}

	s.realtime.Publish(ctx, realtime.NotificationsTopic(n.RecipientID), n)

	title, body := buildPushMessage(n)
	var postID string
	if n.PostID != nil {
		postID = *n.PostID
	}
	event := queue.NewNotificationCreatedEvent(n.ID, n.RecipientID, postID, title, body)
	if _, err := s.publisher.Publish(ctx, queue.StreamFeed, event); err != nil {
		log.Printf("[NotificationService] Failed to enqueue push: notification=%s err=%v", n.ID, err)
	}

	log.Printf("[NotificationService] %s notification %s -> %s", n.Type, n.SenderID, n.RecipientID)
	return n, nil
}

func buildPushMessage(n *model.Notification) (title, body string) {
	name := n.SenderName
	if name == "" {
		name = "Someone"
	}

	switch n.Type {
	case model.NotificationTypeLike:
		return "New like", name + " liked your signal"
	case model.NotificationTypeComment:
		if n.Text != nil && *n.Text != "" {
			return "New comment", name + ": " + truncate(*n.Text, 100)
		}
		return "New comment", name + " commented on your signal"
	case model.NotificationTypeFollow:
		return "New follower", name + " started following you"
	default:
		return "Project Zero", name + " interacted with you"
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// List returns the newest notifications together with the unread badge count.
func (s *NotificationService) List(ctx context.Context, recipientID string, limit int) (*model.NotificationListResponse, error) {
	limit = clampLimit(limit, model.NotificationDefaultLimit, model.NotificationMaxLimit)

	notifications, err := s.notifRepo.List(ctx, recipientID, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.notifRepo.UnreadCount(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	return &model.NotificationListResponse{
		Notifications: notifications,
		UnreadCount:   unread,
	}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return s.notifRepo.UnreadCount(ctx, recipientID)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	return s.notifRepo.MarkRead(ctx, id, recipientID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.notifRepo.MarkAllRead(ctx, recipientID)
}

// RegisterDeviceToken stores an FCM token for push delivery.
func (s *NotificationService) RegisterDeviceToken(ctx context.Context, userID string, req model.RegisterTokenRequest) error {
	platform := req.Platform
	if platform == "" {
		platform = model.PlatformWeb
	}
	if err := s.tokenRepo.Upsert(ctx, userID, req.Token, platform); err != nil {
		return err
	}
	log.Printf("[NotificationService] Registered %s device token for user=%s", platform, userID)
	return nil
}

func (s *NotificationService) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	return s.tokenRepo.Delete(ctx, userID, token)
}
