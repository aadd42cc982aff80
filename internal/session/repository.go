package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlive/backend/internal/models"
)

const sessionColumns = `id, creator_id, tier, status, viewer_count, peak_viewer_count,
	total_coins_spent, total_hype_events, extension_seconds, max_duration_seconds,
	started_at, ended_at, last_heartbeat_at`

// Repository implements Store against Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.CreatorID, &s.Tier, &s.Status, &s.ViewerCount, &s.PeakViewerCount,
		&s.TotalCoinsSpent, &s.TotalHypeEvents, &s.ExtensionSeconds, &s.MaxDurationSeconds,
		&s.StartedAt, &s.EndedAt, &s.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new live session.
func (r *Repository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	const q = `INSERT INTO sessions
		(id, creator_id, tier, status, max_duration_seconds, started_at, last_heartbeat_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $5)
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, s.CreatorID, s.Tier, s.Status, s.MaxDurationSeconds, s.StartedAt))
}

// Get returns a session by id, or nil.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetLiveByCreator returns the creator's live session, or nil.
func (r *Repository) GetLiveByCreator(ctx context.Context, creatorID uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE creator_id = $1 AND status = 'live' LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, creatorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListLive returns every session still marked live or crashed, oldest first.
// Recovery scans this on boot; crashed rows are earlier force-ends that were
// interrupted.
func (r *Repository) ListLive(ctx context.Context) ([]models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE status IN ('live', 'crashed') ORDER BY started_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.CreatorID, &s.Tier, &s.Status, &s.ViewerCount, &s.PeakViewerCount,
			&s.TotalCoinsSpent, &s.TotalHypeEvents, &s.ExtensionSeconds, &s.MaxDurationSeconds,
			&s.StartedAt, &s.EndedAt, &s.LastHeartbeatAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkCrashed records that a live session was found stale, before the forced
// end runs. If the forced end is interrupted the next boot sees the session
// again.
func (r *Repository) MarkCrashed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sessions SET status = 'crashed' WHERE id = $1 AND status = 'live'`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Join upserts the attendance row and increments viewer_count in one
// transaction so concurrent joins cannot lose updates.
func (r *Repository) Join(ctx context.Context, sessionID, participantID uuid.UUID) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO attendance (session_id, participant_id, joined_at, last_heartbeat_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (session_id, participant_id) DO UPDATE SET last_heartbeat_at = NOW(), idle = FALSE`,
		sessionID, participantID)
	if err != nil {
		return 0, err
	}

	var count int
	err = tx.QueryRow(ctx, `UPDATE sessions SET viewer_count = viewer_count + 1
		WHERE id = $1 AND status = 'live' RETURNING viewer_count`, sessionID).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrNoActiveSession
		}
		return 0, err
	}
	return count, tx.Commit(ctx)
}

// Leave decrements viewer_count (floored at zero) and stamps the attendance
// row in one transaction.
func (r *Repository) Leave(ctx context.Context, sessionID, participantID uuid.UUID) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE attendance SET last_heartbeat_at = NOW()
		WHERE session_id = $1 AND participant_id = $2`, sessionID, participantID)
	if err != nil {
		return 0, err
	}

	var count int
	err = tx.QueryRow(ctx, `UPDATE sessions SET viewer_count = GREATEST(viewer_count - 1, 0)
		WHERE id = $1 RETURNING viewer_count`, sessionID).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrNoActiveSession
		}
		return 0, err
	}
	return count, tx.Commit(ctx)
}

// SetEnded marks a session finished.
func (r *Repository) SetEnded(ctx context.Context, id uuid.UUID, status models.SessionStatus, endedAt time.Time) error {
	const q = `UPDATE sessions SET status = $2, ended_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, status, endedAt)
	return err
}

// UpdatePeak writes peak_viewer_count only when the new value is higher.
func (r *Repository) UpdatePeak(ctx context.Context, id uuid.UUID, peak int) error {
	const q = `UPDATE sessions SET peak_viewer_count = $2 WHERE id = $1 AND $2 > peak_viewer_count`
	_, err := r.pool.Exec(ctx, q, id, peak)
	return err
}

// AddExtension adds seconds to the session's ceiling.
func (r *Repository) AddExtension(ctx context.Context, id uuid.UUID, seconds int) error {
	const q = `UPDATE sessions SET extension_seconds = extension_seconds + $2,
		max_duration_seconds = max_duration_seconds + $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, seconds)
	return err
}

// AddCoins atomically adds to total_coins_spent and returns the new total.
func (r *Repository) AddCoins(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	const q = `UPDATE sessions SET total_coins_spent = total_coins_spent + $2
		WHERE id = $1 RETURNING total_coins_spent`
	var total int64
	if err := r.pool.QueryRow(ctx, q, id, amount).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// AddHype atomically adds buffered hype events to the session total.
func (r *Repository) AddHype(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE sessions SET total_hype_events = total_hype_events + $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, count)
	return err
}

// Heartbeat stamps the creator liveness time.
func (r *Repository) Heartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE sessions SET last_heartbeat_at = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, at)
	return err
}

// DeleteSession removes the session row itself. Only the purge coordinator
// calls this, after all subrecords are gone.
func (r *Repository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM sessions WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}
