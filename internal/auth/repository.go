package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlive/backend/internal/models"
)

const creatorColumns = `id, email, password_hash, display_name, community_level, created_at, updated_at`

// Repository handles creator persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a creators repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCreator(row pgx.Row) (*models.Creator, error) {
	var c models.Creator
	err := row.Scan(&c.ID, &c.Email, &c.Password, &c.DisplayName, &c.CommunityLevel, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID returns a creator by id, or nil.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Creator, error) {
	const q = `SELECT ` + creatorColumns + ` FROM creators WHERE id = $1`
	c, err := scanCreator(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// GetByEmail returns a creator by email, or nil.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Creator, error) {
	const q = `SELECT ` + creatorColumns + ` FROM creators WHERE email = $1`
	c, err := scanCreator(r.pool.QueryRow(ctx, q, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// Create inserts a new creator.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string) (*models.Creator, error) {
	const q = `INSERT INTO creators (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING ` + creatorColumns
	return scanCreator(r.pool.QueryRow(ctx, q, email, passwordHash, displayName))
}

// CommunityLevel returns the creator's current community level. Unknown
// creators are level zero, which locks every tier.
func (r *Repository) CommunityLevel(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `SELECT community_level FROM creators WHERE id = $1`
	var level int
	err := r.pool.QueryRow(ctx, q, id).Scan(&level)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return level, nil
}

// SetCommunityLevel updates the creator's level. Progression itself is
// computed elsewhere; this is the durable write.
func (r *Repository) SetCommunityLevel(ctx context.Context, id uuid.UUID, level int) error {
	const q = `UPDATE creators SET community_level = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, level)
	return err
}
