package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlive/backend/internal/models"
)

// Repository handles the ephemeral chat_messages table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a chat message.
func (r *Repository) Create(ctx context.Context, sessionID, senderID uuid.UUID, body string) (*models.ChatMessage, error) {
	const q = `INSERT INTO chat_messages (id, session_id, sender_id, body, sent_at)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW())
		RETURNING id, session_id, sender_id, body, sent_at`
	var m models.ChatMessage
	err := r.pool.QueryRow(ctx, q, sessionID, senderID, body).
		Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Body, &m.SentAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListBySession returns messages for a session in send order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	const q = `SELECT id, session_id, sender_id, body, sent_at
		FROM chat_messages WHERE session_id = $1 ORDER BY sent_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// DeleteBatch deletes up to limit messages for a session, returning how many
// went. Used by the purge coordinator.
func (r *Repository) DeleteBatch(ctx context.Context, sessionID uuid.UUID, limit int) (int, error) {
	const q = `DELETE FROM chat_messages WHERE id IN (
		SELECT id FROM chat_messages WHERE session_id = $1 ORDER BY sent_at ASC LIMIT $2)`
	tag, err := r.pool.Exec(ctx, q, sessionID, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
