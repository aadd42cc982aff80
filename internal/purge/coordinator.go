// Package purge deletes a session's ephemeral records once it has ended: chat
// first, then video replies with their blobs, then attendance, and finally the
// session row itself. Only the completion record survives.
package purge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/models"
)

// ChatStore deletes chat messages in batches.
type ChatStore interface {
	DeleteBatch(ctx context.Context, sessionID uuid.UUID, limit int) (int, error)
}

// ReplyStore lists and deletes video reply rows.
type ReplyStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.VideoReply, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AttendanceStore deletes attendance rows in batches.
type AttendanceStore interface {
	DeleteBatch(ctx context.Context, sessionID uuid.UUID, limit int) (int, error)
}

// SessionStore deletes the session row.
type SessionStore interface {
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// BlobStore deletes clip and thumbnail objects.
type BlobStore interface {
	DeleteObject(ctx context.Context, key string) error
}

// Coordinator runs the post-end cleanup for one session at a time.
type Coordinator struct {
	chat       ChatStore
	replies    ReplyStore
	attendance AttendanceStore
	sessions   SessionStore
	blobs      BlobStore
	batchSize  int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewCoordinator creates a purge coordinator.
func NewCoordinator(chat ChatStore, replies ReplyStore, attendance AttendanceStore, sessions SessionStore, blobs BlobStore, batchSize int, logger *zap.Logger) *Coordinator {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		chat:       chat,
		replies:    replies,
		attendance: attendance,
		sessions:   sessions,
		blobs:      blobs,
		batchSize:  batchSize,
		timeout:    2 * time.Minute,
		logger:     logger,
	}
}

// Purge runs the cleanup in the background. A failed purge is logged and
// abandoned; nothing user-facing depends on it and the next deploy's sweep
// can retry leftovers.
func (c *Coordinator) Purge(sessionID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.Run(ctx, sessionID); err != nil {
			c.logger.Error("purge failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}()
}

// Run performs the cleanup synchronously.
func (c *Coordinator) Run(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.drainChat(ctx, sessionID); err != nil {
		return err
	}
	if err := c.drainReplies(ctx, sessionID); err != nil {
		return err
	}
	if err := c.drainAttendance(ctx, sessionID); err != nil {
		return err
	}
	if err := c.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	c.logger.Info("session purged", zap.String("session_id", sessionID.String()))
	return nil
}

func (c *Coordinator) drainChat(ctx context.Context, sessionID uuid.UUID) error {
	for {
		n, err := c.chat.DeleteBatch(ctx, sessionID, c.batchSize)
		if err != nil {
			return err
		}
		if n < c.batchSize {
			return nil
		}
	}
}

// drainReplies deletes reply rows and their blobs. A blob that cannot be
// deleted is logged and skipped; the row still goes, since an orphaned object
// only costs storage while an orphaned row resurfaces in listings.
func (c *Coordinator) drainReplies(ctx context.Context, sessionID uuid.UUID) error {
	for {
		batch, err := c.replies.ListBySession(ctx, sessionID, c.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, reply := range batch {
			for _, key := range []string{reply.ClipKey, reply.ThumbKey} {
				if key == "" || c.blobs == nil {
					continue
				}
				if err := c.blobs.DeleteObject(ctx, key); err != nil {
					c.logger.Warn("blob delete failed",
						zap.Error(err),
						zap.String("key", key),
						zap.String("reply_id", reply.ID.String()))
				}
			}
			if err := c.replies.Delete(ctx, reply.ID); err != nil {
				return err
			}
		}
		if len(batch) < c.batchSize {
			return nil
		}
	}
}

func (c *Coordinator) drainAttendance(ctx context.Context, sessionID uuid.UUID) error {
	for {
		n, err := c.attendance.DeleteBatch(ctx, sessionID, c.batchSize)
		if err != nil {
			return err
		}
		if n < c.batchSize {
			return nil
		}
	}
}
