package model

import (
	"errors"
	"time"
)

const (
	NotificationTypeFollow  = "follow"
	NotificationTypeLike    = "like"
	NotificationTypeComment = "comment"
)

// Notification is appended on like, comment and follow. Only Read ever changes.
type Notification struct {
	ID           string    `db:"id" json:"id"`
	RecipientID  string    `db:"recipient_id" json:"recipient_id"`
	SenderID     string    `db:"sender_id" json:"sender_id"`
	SenderName   string    `db:"sender_name" json:"sender_name"`
	SenderAvatar *string   `db:"sender_avatar" json:"sender_avatar"`
	Type         string    `db:"type" json:"type"`
	Text         *string   `db:"text" json:"text,omitempty"`
	PostID       *string   `db:"post_id" json:"post_id,omitempty"`
	Read         bool      `db:"read" json:"read"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// NotifyInput is what an action hands to the notification fan-out.
type NotifyInput struct {
	RecipientID string
	SenderID    string
	Type        string
	Text        *string
	PostID      *string
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

const (
	NotificationDefaultLimit = 50
	NotificationMaxLimit     = 200
)

var ErrNotificationNotFound = errors.New("notification not found")
