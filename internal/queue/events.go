package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried on the feed stream
const (
	EventPostCreated         = "post_created"
	EventPostDeleted         = "post_deleted"
	EventUserFollowed        = "user_followed"
	EventUserUnfollowed      = "user_unfollowed"
	EventNotificationCreated = "notification_created"
)

const (
	StreamFeed        = "stream:feed"
	ConsumerGroupFeed = "feed_workers"
)

// Event is the payload of every stream message. Only the fields relevant to Type
// are set.
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds

	PostID   string `json:"post_id,omitempty"`
	AuthorID string `json:"author_id,omitempty"`

	FollowerID string `json:"follower_id,omitempty"`
	FolloweeID string `json:"followee_id,omitempty"`

	NotificationID string `json:"notification_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Title          string `json:"title,omitempty"`
	Body           string `json:"body,omitempty"`
}

// NewPostCreatedEvent stamps the event with the post's creation time so the feed
// score matches the row.
func NewPostCreatedEvent(postID, authorID string, createdAt time.Time) Event {
	return Event{
		Type:      EventPostCreated,
		Timestamp: createdAt.UnixMilli(),
		PostID:    postID,
		AuthorID:  authorID,
	}
}

func NewPostDeletedEvent(postID, authorID string) Event {
	return Event{
		Type:      EventPostDeleted,
		Timestamp: time.Now().UnixMilli(),
		PostID:    postID,
		AuthorID:  authorID,
	}
}

func NewUserFollowedEvent(followerID, followeeID string) Event {
	return Event{
		Type:       EventUserFollowed,
		Timestamp:  time.Now().UnixMilli(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

func NewUserUnfollowedEvent(followerID, followeeID string) Event {
	return Event{
		Type:       EventUserUnfollowed,
		Timestamp:  time.Now().UnixMilli(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

func NewNotificationCreatedEvent(notificationID, recipientID, postID, title, body string) Event {
	return Event{
		Type:           EventNotificationCreated,
		Timestamp:      time.Now().UnixMilli(),
		NotificationID: notificationID,
		RecipientID:    recipientID,
		PostID:         postID,
		Title:          title,
		Body:           body,
	}
}

// ToMap serializes the event into the single "data" field XADD stores.
func (e Event) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

func ParseEvent(values map[string]interface{}) (Event, error) {
	data, ok := values["data"].(string)
	if !ok {
		return Event{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
