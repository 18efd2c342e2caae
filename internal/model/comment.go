package model

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// Comment belongs to one post and optionally replies to another comment on that post.
type Comment struct {
	ID              string         `db:"id" json:"id"`
	PostID          string         `db:"post_id" json:"post_id"`
	AuthorID        string         `db:"author_id" json:"author_id"`
	Text            string         `db:"text" json:"text"`
	ParentCommentID *string        `db:"parent_comment_id" json:"parent_comment_id,omitempty"`
	LikeCount       int            `db:"like_count" json:"like_count"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	AuthorName      string         `db:"author_name" json:"author_name"`
	AuthorAvatar    *string        `db:"author_avatar" json:"author_avatar"`
	LikeIDs         pq.StringArray `db:"like_ids" json:"like_ids"`
}

// CommentThread is a root comment with every descendant flattened beneath it.
type CommentThread struct {
	Root    Comment   `json:"root"`
	Replies []Comment `json:"replies"`
}

type CreateCommentRequest struct {
	Text            string  `json:"text" validate:"required,max=2000"`
	ParentCommentID *string `json:"parent_comment_id" validate:"omitempty,min=1"`
}

const MaxCommentLength = 2000

var (
	ErrCommentNotFound       = errors.New("comment not found")
	ErrParentCommentMismatch = errors.New("parent comment belongs to a different post")
	ErrContentRequired       = errors.New("comment text is required")
)
