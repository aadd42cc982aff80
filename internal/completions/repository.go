package completions

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlive/backend/internal/models"
)

// Repository handles completion_records persistence. Records are written once
// on session end and never updated.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a completion records repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a completion record.
func (r *Repository) Create(ctx context.Context, rec *models.CompletionRecord) (*models.CompletionRecord, error) {
	const q = `INSERT INTO completion_records
		(id, creator_id, session_id, tier, duration_seconds, is_full_completion, peak_viewer_count, coins_earned, completed_at, counts_toward_gate)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, creator_id, session_id, tier, duration_seconds, is_full_completion, peak_viewer_count, coins_earned, completed_at, counts_toward_gate`
	var out models.CompletionRecord
	err := r.pool.QueryRow(ctx, q,
		rec.CreatorID, rec.SessionID, rec.Tier, rec.DurationSeconds, rec.IsFullCompletion,
		rec.PeakViewerCount, rec.CoinsEarned, rec.CompletedAt, rec.CountsTowardGate,
	).Scan(&out.ID, &out.CreatorID, &out.SessionID, &out.Tier, &out.DurationSeconds,
		&out.IsFullCompletion, &out.PeakViewerCount, &out.CoinsEarned, &out.CompletedAt, &out.CountsTowardGate)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByCreator returns the creator's completion history, newest first.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit int) ([]models.CompletionRecord, error) {
	const q = `SELECT id, creator_id, session_id, tier, duration_seconds, is_full_completion, peak_viewer_count, coins_earned, completed_at, counts_toward_gate
		FROM completion_records WHERE creator_id = $1 ORDER BY completed_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, creatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CompletionRecord
	for rows.Next() {
		var rec models.CompletionRecord
		if err := rows.Scan(&rec.ID, &rec.CreatorID, &rec.SessionID, &rec.Tier, &rec.DurationSeconds,
			&rec.IsFullCompletion, &rec.PeakViewerCount, &rec.CoinsEarned, &rec.CompletedAt, &rec.CountsTowardGate); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// GetBySession returns the completion record for a session, or nil.
func (r *Repository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.CompletionRecord, error) {
	const q = `SELECT id, creator_id, session_id, tier, duration_seconds, is_full_completion, peak_viewer_count, coins_earned, completed_at, counts_toward_gate
		FROM completion_records WHERE session_id = $1 LIMIT 1`
	var rec models.CompletionRecord
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&rec.ID, &rec.CreatorID, &rec.SessionID, &rec.Tier, &rec.DurationSeconds,
		&rec.IsFullCompletion, &rec.PeakViewerCount, &rec.CoinsEarned, &rec.CompletedAt, &rec.CountsTowardGate)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
