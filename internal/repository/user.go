package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"projectzero/internal/database"
	"projectzero/internal/model"
)

const userColumns = `
	id, email, password_hash, display_name, avatar_url, bio, birth_date,
	birth_date_privacy, following_privacy, experience, follower_count, following_count,
	email_verified, is_anonymous, auth_provider, created_at, updated_at`

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, display_name, avatar_url, bio,
		                   experience, email_verified, is_anonymous, auth_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING birth_date_privacy, following_privacy, follower_count, following_count, created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.DisplayName,
		u.AvatarURL,
		u.Bio,
		u.Experience,
		u.EmailVerified,
		u.IsAnonymous,
		u.AuthProvider,
	).Scan(
		&u.BirthDatePrivacy,
		&u.FollowingPrivacy,
		&u.FollowerCount,
		&u.FollowingCount,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return model.ErrEmailExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var u model.User
	if err := r.db.GetContext(ctx, &u, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	var u model.User
	if err := r.db.GetContext(ctx, &u, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &u, nil
}

func (r *userRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// UpsertFederated keeps the first-login profile (the user may have edited it since)
// and only refreshes what the provider is authoritative for.
func (r *userRepository) UpsertFederated(ctx context.Context, u *model.User) (bool, error) {
	query := `
		INSERT INTO users (id, email, display_name, avatar_url, email_verified, is_anonymous, auth_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET email_verified = EXCLUDED.email_verified,
		    email = COALESCE(users.email, EXCLUDED.email),
		    updated_at = NOW()
		RETURNING (xmax = 0) AS created
	`

	var created bool
	err := r.db.GetContext(ctx, &created, query,
		u.ID, u.Email, u.DisplayName, u.AvatarURL, u.EmailVerified, u.IsAnonymous, u.AuthProvider)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, model.ErrEmailExists
		}
		return false, fmt.Errorf("failed to upsert federated user: %w", err)
	}
	return created, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET display_name = $2, bio = $3, birth_date = $4, birth_date_privacy = $5,
		    following_privacy = $6, experience = $7, avatar_url = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		u.ID, u.DisplayName, u.Bio, u.BirthDate, u.BirthDatePrivacy,
		u.FollowingPrivacy, u.Experience, u.AvatarURL,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrUserNotFound
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// SearchByName matches a case-insensitive display name prefix.
func (r *userRepository) SearchByName(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error) {
	query := `
		SELECT id, display_name, avatar_url
		FROM users
		WHERE lower(display_name) LIKE $1 ESCAPE '\'
		ORDER BY follower_count DESC, display_name ASC
		LIMIT $2
	`

	users := []model.UserSummary{}
	if err := r.db.SelectContext(ctx, &users, query, escapeLike(strings.ToLower(prefix))+"%", limit); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

func (r *userRepository) GetSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	if len(ids) == 0 {
		return []model.UserSummary{}, nil
	}

	users := []model.UserSummary{}
	query := `SELECT id, display_name, avatar_url FROM users WHERE id = ANY($1)`
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get user summaries: %w", err)
	}
	return users, nil
}

// Suggested returns the newest users the viewer does not already follow.
func (r *userRepository) Suggested(ctx context.Context, viewerID string, limit int) ([]model.UserSummary, error) {
	query := `
		SELECT u.id, u.display_name, u.avatar_url
		FROM users u
		WHERE u.id <> $1
		  AND u.is_anonymous = FALSE
		  AND NOT EXISTS (SELECT 1 FROM follows f WHERE f.follower_id = $1 AND f.followee_id = u.id)
		ORDER BY u.created_at DESC
		LIMIT $2
	`

	users := []model.UserSummary{}
	if err := r.db.SelectContext(ctx, &users, query, viewerID, limit); err != nil {
		return nil, fmt.Errorf("failed to get suggested users: %w", err)
	}
	return users, nil
}

func (r *userRepository) IncrementFollowerCount(ctx context.Context, tx *sqlx.Tx, userID string, delta int) error {
	return r.incrementCounter(ctx, tx, "follower_count", userID, delta)
}

func (r *userRepository) IncrementFollowingCount(ctx context.Context, tx *sqlx.Tx, userID string, delta int) error {
	return r.incrementCounter(ctx, tx, "following_count", userID, delta)
}

// column is always one of the two constants above, never user input.
func (r *userRepository) incrementCounter(ctx context.Context, tx *sqlx.Tx, column, userID string, delta int) error {
	query := fmt.Sprintf(`UPDATE users SET %[1]s = GREATEST(%[1]s + $1, 0) WHERE id = $2`, column)
	result, err := tx.ExecContext(ctx, query, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
