package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emberlive/backend/pkg/queue"
)

// FollowerSource lists the followers a fan-out job should reach.
type FollowerSource interface {
	ListFollowerIDs(ctx context.Context, creatorID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Notification is the message pushed to each follower's channel.
type Notification struct {
	Type        string    `json:"type"`
	CreatorID   uuid.UUID `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	SessionID   uuid.UUID `json:"session_id"`
	Tier        string    `json:"tier"`
	SentAt      time.Time `json:"sent_at"`
}

// ChannelFor is the per-follower pub/sub channel notifications land on.
func ChannelFor(followerID uuid.UUID) string {
	return "notify:" + followerID.String()
}

// Processor consumes fan-out jobs and publishes a went-live notification to
// each follower's channel, capped per job so one huge creator cannot starve
// the queue.
type Processor struct {
	followers FollowerSource
	client    *redis.Client
	queue     *queue.Queue
	limit     int
	logger    *zap.Logger
}

// NewProcessor creates a fan-out processor.
func NewProcessor(followers FollowerSource, client *redis.Client, q *queue.Queue, limit int, logger *zap.Logger) *Processor {
	if limit <= 0 {
		limit = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{followers: followers, client: client, queue: q, limit: limit, logger: logger}
}

// Process executes one fan-out job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeWentLiveFanout {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.WentLiveFanoutPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	followers, err := p.followers.ListFollowerIDs(ctx, payload.CreatorID, p.limit)
	if err != nil {
		return fmt.Errorf("list followers: %w", err)
	}

	msg, err := json.Marshal(Notification{
		Type:        "went_live",
		CreatorID:   payload.CreatorID,
		CreatorName: payload.CreatorName,
		SessionID:   payload.SessionID,
		Tier:        payload.Tier,
		SentAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	delivered := 0
	for _, followerID := range followers {
		if err := p.client.Publish(ctx, ChannelFor(followerID), msg).Err(); err != nil {
			p.logger.Warn("notification publish failed",
				zap.Error(err),
				zap.String("follower_id", followerID.String()))
			continue
		}
		delivered++
	}

	p.logger.Info("went-live fan-out delivered",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int("followers", len(followers)),
		zap.Int("delivered", delivered))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("fan-out worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
		}
	}
}
