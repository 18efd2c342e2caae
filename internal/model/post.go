package model

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// Post is a journal entry ("Signal") shown on the author's timeline and the feeds.
type Post struct {
	ID           string     `db:"id" json:"id"`
	AuthorID     string     `db:"author_id" json:"author_id"`
	Text         string     `db:"text" json:"text"`
	Quote        *string    `db:"quote" json:"quote,omitempty"`
	ImageURL     *string    `db:"image_url" json:"image_url,omitempty"`
	Category     string     `db:"category" json:"category"`
	DayNumber    *int       `db:"day_number" json:"day_number,omitempty"`
	EntryDate    time.Time  `db:"entry_date" json:"entry_date"`
	LikeCount    int        `db:"like_count" json:"like_count"`
	CommentCount int        `db:"comment_count" json:"comment_count"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"-"`

	// Joined fields
	AuthorName   string         `db:"author_name" json:"author_name"`
	AuthorAvatar *string        `db:"author_avatar" json:"author_avatar"`
	LikeIDs      pq.StringArray `db:"like_ids" json:"like_ids"`
	IsLiked      bool           `db:"-" json:"is_liked"`
}

// HasLike reports whether userID is in the post's like set.
func (p *Post) HasLike(userID string) bool {
	for _, id := range p.LikeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PostUpdate carries the author-editable fields. Nil means unchanged.
type PostUpdate struct {
	Text      *string
	Quote     *string
	ImageURL  *string
	Category  *string
	DayNumber *int
	EntryDate *time.Time
}

// LikeResult is returned by the like toggles.
type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

// FeedResponse is a cursor page of posts.
type FeedResponse struct {
	Posts      []Post  `json:"posts"`
	NextCursor *string `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

type CreatePostRequest struct {
	Text      string  `json:"text" validate:"max=5000"`
	Quote     *string `json:"quote" validate:"omitempty,max=500"`
	ImageURL  *string `json:"image_url" validate:"omitempty,url"`
	Category  string  `json:"category" validate:"max=40"`
	DayNumber *int    `json:"day_number" validate:"omitempty,min=1,max=366"`
	EntryDate *string `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
}

type UpdatePostRequest struct {
	Text      *string `json:"text" validate:"omitempty,max=5000"`
	Quote     *string `json:"quote" validate:"omitempty,max=500"`
	ImageURL  *string `json:"image_url" validate:"omitempty,url"`
	Category  *string `json:"category" validate:"omitempty,max=40"`
	DayNumber *int    `json:"day_number" validate:"omitempty,min=1,max=366"`
	EntryDate *string `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
}

const MaxPostTextLength = 5000

var (
	ErrPostNotFound           = errors.New("post not found")
	ErrUnauthorizedPostAction = errors.New("only the author can change this post")
	ErrEmptyPost              = errors.New("a post needs text or an image")
	ErrInvalidEntryDate       = errors.New("entry date must be formatted as YYYY-MM-DD")
	ErrInvalidCursor          = errors.New("invalid cursor")
)
