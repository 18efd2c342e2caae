package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type deviceTokenRepository struct {
	db *sqlx.DB
}

func NewDeviceTokenRepository(db *sqlx.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

// Upsert registers a push token. A token already held by another account is moved
// to userID, since a device signs in as one user at a time.
func (r *deviceTokenRepository) Upsert(ctx context.Context, userID, token, platform string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_tokens (token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = NOW()`,
		token, userID, platform)
	if err != nil {
		return fmt.Errorf("register device token: %w", err)
	}
	return nil
}

// GetTokens lists the user's devices, most recently registered first.
func (r *deviceTokenRepository) GetTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := r.db.SelectContext(ctx, &tokens,
		`SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens of user %s: %w", userID, err)
	}
	return tokens, nil
}

// Delete only removes the token while it still belongs to userID.
func (r *deviceTokenRepository) Delete(ctx context.Context, userID, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE token = $1 AND user_id = $2`, token, userID)
	if err != nil {
		return fmt.Errorf("unregister device token: %w", err)
	}
	return nil
}

// Purge drops tokens the push provider reported as no longer registered,
// whoever owns them.
func (r *deviceTokenRepository) Purge(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE token = ANY($1)`, pq.Array(tokens))
	if err != nil {
		return 0, fmt.Errorf("purge device tokens: %w", err)
	}
	return result.RowsAffected()
}
