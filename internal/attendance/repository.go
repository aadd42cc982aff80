package attendance

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlive/backend/internal/models"
)

// Repository handles attendance rows. Counter columns are only ever touched
// with atomic increments so concurrent flushes from many participants cannot
// lose updates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert records a participant joining a session. Re-joining refreshes the
// heartbeat and clears the idle flag without resetting counters.
func (r *Repository) Upsert(ctx context.Context, sessionID, participantID uuid.UUID) error {
	const q = `INSERT INTO attendance (session_id, participant_id, joined_at, last_heartbeat_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (session_id, participant_id)
		DO UPDATE SET last_heartbeat_at = NOW(), idle = FALSE`
	_, err := r.pool.Exec(ctx, q, sessionID, participantID)
	return err
}

// Get returns one attendance row, or nil.
func (r *Repository) Get(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Attendance, error) {
	const q = `SELECT session_id, participant_id, joined_at, last_heartbeat_at, watch_seconds, interaction_count, idle, xp_multiplier, multiplier_expires_at
		FROM attendance WHERE session_id = $1 AND participant_id = $2`
	var a models.Attendance
	err := r.pool.QueryRow(ctx, q, sessionID, participantID).Scan(
		&a.SessionID, &a.ParticipantID, &a.JoinedAt, &a.LastHeartbeatAt,
		&a.WatchSeconds, &a.InteractionCount, &a.Idle, &a.XPMultiplier, &a.MultiplierExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ApplyFlush applies one buffered flush as a single atomic increment-write.
func (r *Repository) ApplyFlush(ctx context.Context, sessionID, participantID uuid.UUID, interactions int, watchSeconds int64) error {
	const q = `UPDATE attendance
		SET interaction_count = interaction_count + $3,
		    watch_seconds = watch_seconds + $4,
		    last_heartbeat_at = NOW()
		WHERE session_id = $1 AND participant_id = $2`
	_, err := r.pool.Exec(ctx, q, sessionID, participantID, interactions, watchSeconds)
	return err
}

// SetIdle marks or clears a participant's idle flag.
func (r *Repository) SetIdle(ctx context.Context, sessionID, participantID uuid.UUID, idle bool) error {
	const q = `UPDATE attendance SET idle = $3 WHERE session_id = $1 AND participant_id = $2`
	_, err := r.pool.Exec(ctx, q, sessionID, participantID, idle)
	return err
}

// SetMultiplier grants a temporary XP multiplier (e.g. a collective goal
// reward) to a participant.
func (r *Repository) SetMultiplier(ctx context.Context, sessionID, participantID uuid.UUID, multiplier float64, expiresSeconds int) error {
	const q = `UPDATE attendance
		SET xp_multiplier = $3, multiplier_expires_at = NOW() + make_interval(secs => $4)
		WHERE session_id = $1 AND participant_id = $2`
	_, err := r.pool.Exec(ctx, q, sessionID, participantID, multiplier, expiresSeconds)
	return err
}

// SetMultiplierAll grants the multiplier to every participant of a session,
// used when a collective goal pays out.
func (r *Repository) SetMultiplierAll(ctx context.Context, sessionID uuid.UUID, multiplier float64, expiresSeconds int) error {
	const q = `UPDATE attendance
		SET xp_multiplier = $2, multiplier_expires_at = NOW() + make_interval(secs => $3)
		WHERE session_id = $1`
	_, err := r.pool.Exec(ctx, q, sessionID, multiplier, expiresSeconds)
	return err
}

// ListBySession returns attendance rows for a session, most recent joiners
// first, paginated for purge-sized scans.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Attendance, error) {
	const q = `SELECT session_id, participant_id, joined_at, last_heartbeat_at, watch_seconds, interaction_count, idle, xp_multiplier, multiplier_expires_at
		FROM attendance WHERE session_id = $1 ORDER BY joined_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Attendance
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.SessionID, &a.ParticipantID, &a.JoinedAt, &a.LastHeartbeatAt,
			&a.WatchSeconds, &a.InteractionCount, &a.Idle, &a.XPMultiplier, &a.MultiplierExpiresAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// DeleteBatch deletes up to limit attendance rows for a session, returning
// how many went. Used by the purge coordinator.
func (r *Repository) DeleteBatch(ctx context.Context, sessionID uuid.UUID, limit int) (int, error) {
	const q = `DELETE FROM attendance WHERE (session_id, participant_id) IN (
		SELECT session_id, participant_id FROM attendance WHERE session_id = $1 LIMIT $2)`
	tag, err := r.pool.Exec(ctx, q, sessionID, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
