package model

import (
	"errors"
	"time"
)

type Follow struct {
	FollowerID string    `db:"follower_id" json:"follower_id"`
	FolloweeID string    `db:"followee_id" json:"followee_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type UserSummary struct {
	ID          string  `db:"id" json:"id"`
	DisplayName string  `db:"display_name" json:"display_name"`
	AvatarURL   *string `db:"avatar_url" json:"avatar_url"`
	IsFollowing bool    `db:"-" json:"is_following"`
}

type FollowListResponse struct {
	Users      []UserSummary `json:"users"`
	NextCursor *string       `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

// FollowConsistency compares a user's denormalized counters with the edge table.
// Symmetric is false when either counter drifted from the edges.
type FollowConsistency struct {
	UserID             string `db:"user_id" json:"user_id"`
	FollowerCount      int    `db:"follower_count" json:"follower_count"`
	FollowingCount     int    `db:"following_count" json:"following_count"`
	FollowerEdgeCount  int    `db:"follower_edges" json:"follower_edge_count"`
	FollowingEdgeCount int    `db:"following_edges" json:"following_edge_count"`
	Symmetric          bool   `db:"-" json:"symmetric"`
}

func (c *FollowConsistency) Evaluate() {
	c.Symmetric = c.FollowerCount == c.FollowerEdgeCount && c.FollowingCount == c.FollowingEdgeCount
}

var (
	ErrAlreadyFollowing = errors.New("already following this user")
	ErrNotFollowing     = errors.New("not following this user")
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
)
