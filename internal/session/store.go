package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emberlive/backend/internal/models"
)

// Store is the durable session-document contract the manager depends on.
// *Repository implements it against Postgres; tests use an in-memory fake.
type Store interface {
	Create(ctx context.Context, s *models.Session) (*models.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// Join atomically upserts the attendance row and applies +1 to
	// viewer_count in one transaction, returning the new count.
	Join(ctx context.Context, sessionID, participantID uuid.UUID) (int, error)
	// Leave applies -1 (floored at zero) and stamps the attendance row in one
	// transaction, returning the new count.
	Leave(ctx context.Context, sessionID, participantID uuid.UUID) (int, error)
	// SetEnded marks the session finished with the given terminal status.
	SetEnded(ctx context.Context, id uuid.UUID, status models.SessionStatus, endedAt time.Time) error
	// UpdatePeak writes a new peak only when it exceeds the stored one.
	UpdatePeak(ctx context.Context, id uuid.UUID, peak int) error
	AddExtension(ctx context.Context, id uuid.UUID, seconds int) error
	// AddCoins atomically adds to total_coins_spent and returns the new total.
	AddCoins(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
	AddHype(ctx context.Context, id uuid.UUID, count int) error
	Heartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
}

// CompletionStore persists and lists completion records.
type CompletionStore interface {
	Create(ctx context.Context, rec *models.CompletionRecord) (*models.CompletionRecord, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, limit int) ([]models.CompletionRecord, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.CompletionRecord, error)
}

// AttendanceStore applies buffered participant activity.
type AttendanceStore interface {
	ApplyFlush(ctx context.Context, sessionID, participantID uuid.UUID, interactions int, watchSeconds int64) error
	SetMultiplierAll(ctx context.Context, sessionID uuid.UUID, multiplier float64, expiresSeconds int) error
}

// Presence is the external "creator is live" flag.
type Presence interface {
	SetLive(ctx context.Context, creatorID, sessionID uuid.UUID) error
	ClearLive(ctx context.Context, creatorID uuid.UUID) error
	LiveSession(ctx context.Context, creatorID uuid.UUID) (uuid.UUID, bool, error)
}

// CreatorStore resolves a creator's community level for gate checks.
type CreatorStore interface {
	CommunityLevel(ctx context.Context, creatorID uuid.UUID) (int, error)
}

// Notifier fans out a went-live event. Implementations are best-effort and
// must never block the caller.
type Notifier interface {
	WentLive(ctx context.Context, s *models.Session)
}

// Purger deletes a session's ephemeral records after it ends.
type Purger interface {
	Purge(sessionID uuid.UUID)
}

// Broadcaster pushes realtime events to a session's participants.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
}
