package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"projectzero/internal/model"
)

const threadColumns = `id, participant_a, participant_b, last_message_text, last_sender_id, created_at, updated_at`

type chatRepository struct {
	db *sqlx.DB
}

func NewChatRepository(db *sqlx.DB) ChatRepository {
	return &chatRepository{db: db}
}

// EnsureThread relies on the primary key: concurrent callers for the same pair all
// end up reading the single row that won the insert.
func (r *chatRepository) EnsureThread(ctx context.Context, t *model.ChatThread) (bool, error) {
	insert := `
		INSERT INTO chat_threads (id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, insert, t.ID, t.ParticipantA, t.ParticipantB)
	if err != nil {
		return false, fmt.Errorf("insert chat thread: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	stored, err := r.GetThread(ctx, t.ID)
	if err != nil {
		return false, err
	}
	*t = *stored
	return rows > 0, nil
}

func (r *chatRepository) GetThread(ctx context.Context, threadID string) (*model.ChatThread, error) {
	var t model.ChatThread
	query := `SELECT ` + threadColumns + ` FROM chat_threads WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrThreadNotFound
		}
		return nil, fmt.Errorf("get chat thread: %w", err)
	}
	return &t, nil
}

func (r *chatRepository) LockThread(ctx context.Context, tx *sqlx.Tx, threadID string) (*model.ChatThread, error) {
	var t model.ChatThread
	query := `SELECT ` + threadColumns + ` FROM chat_threads WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &t, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrThreadNotFound
		}
		return nil, fmt.Errorf("lock chat thread: %w", err)
	}
	return &t, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, tx *sqlx.Tx, m *model.Message) error {
	query := `
		INSERT INTO messages (id, thread_id, sender_id, text)
		VALUES ($1, $2, $3, $4)
		RETURNING read, created_at
	`
	if err := tx.QueryRowxContext(ctx, query, m.ID, m.ThreadID, m.SenderID, m.Text).Scan(&m.Read, &m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *chatRepository) TouchThread(ctx context.Context, tx *sqlx.Tx, threadID, lastText, senderID string, at time.Time) error {
	query := `
		UPDATE chat_threads
		SET last_message_text = $2, last_sender_id = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, threadID, lastText, senderID, at); err != nil {
		return fmt.Errorf("update chat thread: %w", err)
	}
	return nil
}

// ListThreads returns the user's inbox, most recently active first, with the other
// participant and the number of their messages the user has not read.
func (r *chatRepository) ListThreads(ctx context.Context, userID string) ([]model.ChatThread, error) {
	query := `
		SELECT t.id, t.participant_a, t.participant_b, t.last_message_text, t.last_sender_id,
		       t.created_at, t.updated_at,
		       u.id AS other_id, u.display_name AS other_display_name, u.avatar_url AS other_avatar_url,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.thread_id = t.id AND m.sender_id <> $1 AND m.read = FALSE) AS unread_count
		FROM chat_threads t
		JOIN users u ON u.id = CASE WHEN t.participant_a = $1 THEN t.participant_b ELSE t.participant_a END
		WHERE t.participant_a = $1 OR t.participant_b = $1
		ORDER BY t.updated_at DESC
	`

	type threadRow struct {
		model.ChatThread
		OtherID          string  `db:"other_id"`
		OtherDisplayName string  `db:"other_display_name"`
		OtherAvatarURL   *string `db:"other_avatar_url"`
	}

	var rows []threadRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list chat threads: %w", err)
	}

	threads := make([]model.ChatThread, len(rows))
	for i, row := range rows {
		t := row.ChatThread
		t.OtherUser = &model.UserSummary{
			ID:          row.OtherID,
			DisplayName: row.OtherDisplayName,
			AvatarURL:   row.OtherAvatarURL,
		}
		threads[i] = t
	}
	return threads, nil
}

// ListMessages returns the latest limit messages in chronological order.
func (r *chatRepository) ListMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	query := `
		SELECT id, thread_id, sender_id, text, read, created_at FROM (
			SELECT id, thread_id, sender_id, text, read, created_at
			FROM messages
			WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`
	messages := []model.Message{}
	if err := r.db.SelectContext(ctx, &messages, query, threadID, limit); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (r *chatRepository) MarkRead(ctx context.Context, threadID, readerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read = TRUE WHERE thread_id = $1 AND sender_id <> $2 AND read = FALSE`,
		threadID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return result.RowsAffected()
}
