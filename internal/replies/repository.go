package replies

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlive/backend/internal/models"
)

// Repository handles the ephemeral video_replies table. The clip and
// thumbnail blobs referenced by each row live in the blob store and are
// deleted alongside the row on purge.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a video replies repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a video reply row with pre-assigned blob keys.
func (r *Repository) Create(ctx context.Context, id, sessionID, senderID uuid.UUID, clipKey, thumbKey string) (*models.VideoReply, error) {
	const q = `INSERT INTO video_replies (id, session_id, sender_id, clip_key, thumb_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, session_id, sender_id, clip_key, thumb_key, created_at`
	var v models.VideoReply
	err := r.pool.QueryRow(ctx, q, id, sessionID, senderID, clipKey, thumbKey).
		Scan(&v.ID, &v.SessionID, &v.SenderID, &v.ClipKey, &v.ThumbKey, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListBySession returns replies for a session in creation order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.VideoReply, error) {
	const q = `SELECT id, session_id, sender_id, clip_key, thumb_key, created_at
		FROM video_replies WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.VideoReply
	for rows.Next() {
		var v models.VideoReply
		if err := rows.Scan(&v.ID, &v.SessionID, &v.SenderID, &v.ClipKey, &v.ThumbKey, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// Delete removes one reply row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM video_replies WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}
