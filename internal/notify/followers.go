// Package notify owns the follower graph and the went-live fan-out: when a
// creator starts a session their followers get a push over the realtime
// channel, delivered by the queue worker.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FollowerRepository persists the follower graph.
type FollowerRepository struct {
	pool *pgxpool.Pool
}

// NewFollowerRepository creates a follower repository.
func NewFollowerRepository(pool *pgxpool.Pool) *FollowerRepository {
	return &FollowerRepository{pool: pool}
}

// Follow records that follower follows creator. Repeat follows are no-ops.
func (r *FollowerRepository) Follow(ctx context.Context, creatorID, followerID uuid.UUID) error {
	const q = `INSERT INTO followers (creator_id, follower_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := r.pool.Exec(ctx, q, creatorID, followerID)
	return err
}

// Unfollow removes the edge. Removing an absent edge is not an error.
func (r *FollowerRepository) Unfollow(ctx context.Context, creatorID, followerID uuid.UUID) error {
	const q = `DELETE FROM followers WHERE creator_id = $1 AND follower_id = $2`
	_, err := r.pool.Exec(ctx, q, creatorID, followerID)
	return err
}

// ListFollowerIDs returns follower ids for a creator, newest first, capped at
// limit.
func (r *FollowerRepository) ListFollowerIDs(ctx context.Context, creatorID uuid.UUID, limit int) ([]uuid.UUID, error) {
	const q = `SELECT follower_id FROM followers
		WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, creatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountFollowers returns the creator's follower count.
func (r *FollowerRepository) CountFollowers(ctx context.Context, creatorID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM followers WHERE creator_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, q, creatorID).Scan(&n)
	return n, err
}
