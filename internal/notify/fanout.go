package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/internal/tiers"
	"github.com/emberlive/backend/pkg/queue"
)

// CreatorDirectory resolves display names for notification payloads.
type CreatorDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Creator, error)
}

// Fanout enqueues went-live notification jobs. It implements the session
// manager's Notifier and never blocks or fails the caller.
type Fanout struct {
	queue    *queue.Queue
	creators CreatorDirectory
	logger   *zap.Logger
}

// NewFanout creates a fan-out enqueuer.
func NewFanout(q *queue.Queue, creators CreatorDirectory, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{queue: q, creators: creators, logger: logger}
}

// WentLive enqueues a fan-out job for the session. Runs in the background;
// the session start never waits on it.
func (f *Fanout) WentLive(ctx context.Context, s *models.Session) {
	sessionID := s.ID
	creatorID := s.CreatorID
	tierOrdinal := s.Tier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		name := ""
		if creator, err := f.creators.GetByID(ctx, creatorID); err != nil {
			f.logger.Warn("creator lookup for fan-out failed", zap.Error(err), zap.String("creator_id", creatorID.String()))
		} else if creator != nil {
			name = creator.DisplayName
		}

		tierName := ""
		if def, ok := tiers.ByOrdinal(tierOrdinal); ok {
			tierName = def.Name
		}

		err := f.queue.EnqueueWentLiveFanout(ctx, queue.WentLiveFanoutPayload{
			CreatorID:   creatorID,
			SessionID:   sessionID,
			CreatorName: name,
			Tier:        tierName,
		})
		if err != nil {
			f.logger.Warn("went-live fan-out enqueue failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}()
}
