package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"projectzero/internal/cache"
	"projectzero/internal/model"
)

const postSelect = `
	SELECT p.id, p.author_id, p.text, p.quote, p.image_url, p.category, p.day_number, p.entry_date,
	       p.like_count, p.comment_count, p.created_at, p.updated_at, p.deleted_at,
	       u.display_name AS author_name, u.avatar_url AS author_avatar,
	       COALESCE((SELECT array_agg(pl.user_id ORDER BY pl.created_at)
	                 FROM post_likes pl WHERE pl.post_id = p.id), '{}') AS like_ids
	FROM posts p
	JOIN users u ON u.id = p.author_id`

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	query := `
		INSERT INTO posts (id, author_id, text, quote, image_url, category, day_number, entry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		p.ID, p.AuthorID, p.Text, p.Quote, p.ImageURL, p.Category, p.DayNumber, p.EntryDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	query := postSelect + ` WHERE p.id = $1 AND p.deleted_at IS NULL`

	var p model.Post
	if err := r.db.GetContext(ctx, &p, query, postID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &p, nil
}

// GetByIDs returns the live posts among postIDs, newest first. Missing or deleted
// ids are skipped.
func (r *postRepository) GetByIDs(ctx context.Context, postIDs []string) ([]model.Post, error) {
	posts := []model.Post{}
	if len(postIDs) == 0 {
		return posts, nil
	}

	query := postSelect + `
		WHERE p.id = ANY($1) AND p.deleted_at IS NULL
		ORDER BY p.created_at DESC, p.id DESC`
	if err := r.db.SelectContext(ctx, &posts, query, pq.Array(postIDs)); err != nil {
		return nil, fmt.Errorf("failed to get posts by ids: %w", err)
	}
	return posts, nil
}

func (r *postRepository) Update(ctx context.Context, postID string, upd model.PostUpdate) error {
	query := `
		UPDATE posts
		SET text       = COALESCE($2, text),
		    quote      = COALESCE($3, quote),
		    image_url  = CASE WHEN $4::text IS NULL THEN image_url ELSE NULLIF($4, '') END,
		    category   = COALESCE($5, category),
		    day_number = COALESCE($6, day_number),
		    entry_date = COALESCE($7, entry_date),
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		postID, upd.Text, upd.Quote, upd.ImageURL, upd.Category, upd.DayNumber, upd.EntryDate)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrPostNotFound
	}
	return nil
}

func (r *postRepository) SoftDelete(ctx context.Context, postID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, postID)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrPostNotFound
	}
	return nil
}

// ListByAuthor pages an author's timeline newest first using a keyset cursor on
// (created_at, id).
func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, cursor *string, limit int) ([]model.Post, *string, error) {
	var query string
	var args []interface{}

	if cursor == nil {
		query = postSelect + `
			WHERE p.author_id = $1 AND p.deleted_at IS NULL
			ORDER BY p.created_at DESC, p.id DESC
			LIMIT $2`
		args = []interface{}{authorID, limit + 1}
	} else {
		ts, id, err := parseCursor(*cursor)
		if err != nil {
			return nil, nil, err
		}
		query = postSelect + `
			WHERE p.author_id = $1 AND p.deleted_at IS NULL
			  AND (p.created_at, p.id) < ($2, $3)
			ORDER BY p.created_at DESC, p.id DESC
			LIMIT $4`
		args = []interface{}{authorID, ts, id, limit + 1}
	}

	posts := []model.Post{}
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, nil, fmt.Errorf("failed to list posts by author: %w", err)
	}

	var nextCursor *string
	if len(posts) > limit {
		posts = posts[:limit]
		last := posts[len(posts)-1]
		c := formatCursor(last.CreatedAt, last.ID)
		nextCursor = &c
	}
	return posts, nextCursor, nil
}

func (r *postRepository) ListGlobal(ctx context.Context, limit int) ([]model.Post, error) {
	query := postSelect + `
		WHERE p.deleted_at IS NULL
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $1`

	posts := []model.Post{}
	if err := r.db.SelectContext(ctx, &posts, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list global feed: %w", err)
	}
	return posts, nil
}

type postScoreRow struct {
	ID        string `db:"id"`
	Timestamp int64  `db:"timestamp"`
}

func toPostScores(rows []postScoreRow) []cache.PostScore {
	posts := make([]cache.PostScore, len(rows))
	for i, row := range rows {
		posts[i] = cache.PostScore{PostID: row.ID, Timestamp: row.Timestamp}
	}
	return posts
}

// GetRecentPostsByUser feeds follow backfill and unfollow cleanup. Timestamps are
// unix milliseconds, the feed cache score unit.
func (r *postRepository) GetRecentPostsByUser(ctx context.Context, userID string, limit int) ([]cache.PostScore, error) {
	query := `
		SELECT id, (EXTRACT(EPOCH FROM created_at) * 1000)::bigint AS timestamp
		FROM posts
		WHERE author_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []postScoreRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("get recent posts: %w", err)
	}
	return toPostScores(rows), nil
}

func (r *postRepository) GetFeedPostIDs(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error) {
	if len(authorIDs) == 0 {
		return []cache.PostScore{}, nil
	}

	query := `
		SELECT id, (EXTRACT(EPOCH FROM created_at) * 1000)::bigint AS timestamp
		FROM posts
		WHERE author_id = ANY($1) AND deleted_at IS NULL
		ORDER BY (EXTRACT(EPOCH FROM created_at) * 1000)::bigint DESC, id COLLATE "C" DESC
		LIMIT $2
	`
	var rows []postScoreRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(authorIDs), limit); err != nil {
		return nil, fmt.Errorf("get feed post ids: %w", err)
	}
	return toPostScores(rows), nil
}

func (r *postRepository) GetDayNumbers(ctx context.Context, authorID string) ([]int, error) {
	query := `
		SELECT DISTINCT day_number
		FROM posts
		WHERE author_id = $1 AND deleted_at IS NULL AND day_number IS NOT NULL
		ORDER BY day_number
	`
	days := []int{}
	if err := r.db.SelectContext(ctx, &days, query, authorID); err != nil {
		return nil, fmt.Errorf("get day numbers: %w", err)
	}
	return days, nil
}

func (r *postRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, postID string) (string, error) {
	var authorID string
	query := `SELECT author_id FROM posts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	if err := tx.GetContext(ctx, &authorID, query, postID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrPostNotFound
		}
		return "", fmt.Errorf("lock post: %w", err)
	}
	return authorID, nil
}

func (r *postRepository) ToggleLike(ctx context.Context, tx *sqlx.Tx, postID, userID string) (*model.LikeResult, error) {
	return toggleLike(ctx, tx, "post_likes", "post_id", "posts", postID, userID)
}

func (r *postRepository) IncrementCommentCount(ctx context.Context, tx *sqlx.Tx, postID string, delta int) error {
	query := `UPDATE posts SET comment_count = GREATEST(comment_count + $1, 0) WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, delta, postID); err != nil {
		return fmt.Errorf("update comment count: %w", err)
	}
	return nil
}

// toggleLike removes the (target, user) like row when present and inserts it
// otherwise, keeping the target's like_count in step. Table and column names are
// fixed by the two repositories that call it.
func toggleLike(ctx context.Context, tx *sqlx.Tx, likeTable, fkColumn, targetTable, targetID, userID string) (*model.LikeResult, error) {
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND user_id = $2`, likeTable, fkColumn)
	result, err := tx.ExecContext(ctx, deleteQuery, targetID, userID)
	if err != nil {
		return nil, fmt.Errorf("remove like: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}

	delta := -1
	liked := false
	if removed == 0 {
		insertQuery := fmt.Sprintf(`INSERT INTO %s (%s, user_id) VALUES ($1, $2)`, likeTable, fkColumn)
		if _, err := tx.ExecContext(ctx, insertQuery, targetID, userID); err != nil {
			return nil, fmt.Errorf("add like: %w", err)
		}
		delta = 1
		liked = true
	}

	var count int
	countQuery := fmt.Sprintf(
		`UPDATE %s SET like_count = GREATEST(like_count + $1, 0) WHERE id = $2 RETURNING like_count`, targetTable)
	if err := tx.GetContext(ctx, &count, countQuery, delta, targetID); err != nil {
		return nil, fmt.Errorf("update like count: %w", err)
	}

	return &model.LikeResult{Liked: liked, LikeCount: count}, nil
}
