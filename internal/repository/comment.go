package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"projectzero/internal/model"
)

const commentSelect = `
	SELECT c.id, c.post_id, c.author_id, c.text, c.parent_comment_id, c.like_count, c.created_at,
	       u.display_name AS author_name, u.avatar_url AS author_avatar,
	       COALESCE((SELECT array_agg(cl.user_id ORDER BY cl.created_at)
	                 FROM comment_likes cl WHERE cl.comment_id = c.id), '{}') AS like_ids
	FROM comments c
	JOIN users u ON u.id = c.author_id`

type commentRepository struct {
	db *sqlx.DB
}

func NewCommentRepository(db *sqlx.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, tx *sqlx.Tx, c *model.Comment) error {
	query := `
		INSERT INTO comments (id, post_id, author_id, text, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := tx.QueryRowxContext(ctx, query, c.ID, c.PostID, c.AuthorID, c.Text, c.ParentCommentID).
		Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, commentID string) (*model.Comment, error) {
	var c model.Comment
	if err := r.db.GetContext(ctx, &c, commentSelect+` WHERE c.id = $1`, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrCommentNotFound
		}
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return &c, nil
}

// ListByPost returns every comment on the post, oldest first.
func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	query := commentSelect + `
		WHERE c.post_id = $1
		ORDER BY c.created_at ASC, c.id ASC`

	comments := []model.Comment{}
	if err := r.db.SelectContext(ctx, &comments, query, postID); err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

func (r *commentRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, commentID string) (*model.Comment, error) {
	query := `
		SELECT id, post_id, author_id, text, parent_comment_id, like_count, created_at
		FROM comments
		WHERE id = $1
		FOR UPDATE
	`
	var c model.Comment
	if err := tx.GetContext(ctx, &c, query, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrCommentNotFound
		}
		return nil, fmt.Errorf("lock comment: %w", err)
	}
	return &c, nil
}

func (r *commentRepository) ToggleLike(ctx context.Context, tx *sqlx.Tx, commentID, userID string) (*model.LikeResult, error) {
	return toggleLike(ctx, tx, "comment_likes", "comment_id", "comments", commentID, userID)
}
