// Package recovery reconciles durable session state with reality after a
// process restart. Sessions whose creator kept heartbeating recently are
// resumed in place; the rest are force-ended through the normal end path so
// the creator still gets a completion record.
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/models"
)

// SessionSource lists and marks the durable sessions recovery works on.
type SessionSource interface {
	ListLive(ctx context.Context) ([]models.Session, error)
	MarkCrashed(ctx context.Context, id uuid.UUID) error
}

// Lifecycle is the slice of the session manager recovery drives.
type Lifecycle interface {
	Adopt(s *models.Session) error
	End(ctx context.Context, creatorID uuid.UUID) (*models.CompletionRecord, error)
}

// Presence reads and repairs the fast-path live flags.
type Presence interface {
	LiveSession(ctx context.Context, creatorID uuid.UUID) (uuid.UUID, bool, error)
	ScanLive(ctx context.Context) (map[uuid.UUID]uuid.UUID, error)
	SetLive(ctx context.Context, creatorID, sessionID uuid.UUID) error
	ClearLive(ctx context.Context, creatorID uuid.UUID) error
}

// Report counts what one recovery pass did.
type Report struct {
	Resumed    int
	ForceEnded int
	FlagsFixed int
	Failed     int
}

// Coordinator runs the boot-time reconciliation pass.
type Coordinator struct {
	source    SessionSource
	lifecycle Lifecycle
	presence  Presence
	staleness time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewCoordinator creates a recovery coordinator. staleness is the maximum
// heartbeat age at which a session is still considered alive.
func NewCoordinator(source SessionSource, lifecycle Lifecycle, presence Presence, staleness time.Duration, logger *zap.Logger) *Coordinator {
	if staleness <= 0 {
		staleness = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		source:    source,
		lifecycle: lifecycle,
		presence:  presence,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one reconciliation pass. It only returns an error when the
// initial scan fails; per-session failures are logged and counted so one bad
// row cannot block the rest of the boot.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	sessions, err := c.source.ListLive(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	now := c.now()
	liveCreators := make(map[uuid.UUID]struct{}, len(sessions))
	for i := range sessions {
		s := sessions[i]
		age := now.Sub(s.LastHeartbeatAt)

		if s.Status == models.SessionLive && age <= c.staleness {
			if err := c.resume(ctx, &s, &report); err != nil {
				c.logger.Error("resume failed", zap.Error(err), zap.String("session_id", s.ID.String()))
				report.Failed++
				continue
			}
			liveCreators[s.CreatorID] = struct{}{}
			continue
		}

		if err := c.forceEnd(ctx, &s, &report); err != nil {
			c.logger.Error("force-end failed", zap.Error(err), zap.String("session_id", s.ID.String()))
			report.Failed++
		}
	}

	c.cleanStaleFlags(ctx, liveCreators, &report)

	c.logger.Info("recovery pass complete",
		zap.Int("resumed", report.Resumed),
		zap.Int("force_ended", report.ForceEnded),
		zap.Int("flags_fixed", report.FlagsFixed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// cleanStaleFlags clears live flags whose creator has no surviving session,
// including flags corrupted beyond parsing.
func (c *Coordinator) cleanStaleFlags(ctx context.Context, liveCreators map[uuid.UUID]struct{}, report *Report) {
	flags, err := c.presence.ScanLive(ctx)
	if err != nil {
		c.logger.Warn("live flag scan failed", zap.Error(err))
		return
	}
	for creatorID := range flags {
		if _, ok := liveCreators[creatorID]; ok {
			continue
		}
		if err := c.presence.ClearLive(ctx, creatorID); err != nil {
			c.logger.Warn("stale flag cleanup failed", zap.Error(err), zap.String("creator_id", creatorID.String()))
			continue
		}
		report.FlagsFixed++
		c.logger.Info("stale live flag cleared", zap.String("creator_id", creatorID.String()))
	}
}

func (c *Coordinator) resume(ctx context.Context, s *models.Session, report *Report) error {
	if err := c.lifecycle.Adopt(s); err != nil {
		return err
	}
	report.Resumed++

	flagged, ok, err := c.presence.LiveSession(ctx, s.CreatorID)
	if err != nil {
		c.logger.Warn("live flag read failed", zap.Error(err), zap.String("creator_id", s.CreatorID.String()))
		return nil
	}
	if !ok || flagged != s.ID {
		if err := c.presence.SetLive(ctx, s.CreatorID, s.ID); err != nil {
			c.logger.Warn("live flag repair failed", zap.Error(err), zap.String("creator_id", s.CreatorID.String()))
			return nil
		}
		report.FlagsFixed++
	}

	c.logger.Info("session resumed",
		zap.String("session_id", s.ID.String()),
		zap.String("creator_id", s.CreatorID.String()))
	return nil
}

func (c *Coordinator) forceEnd(ctx context.Context, s *models.Session, report *Report) error {
	if s.Status == models.SessionLive {
		if err := c.source.MarkCrashed(ctx, s.ID); err != nil {
			return err
		}
	}
	// Route through the normal end path so the completion record, the live
	// flag and the purge all happen exactly as for a voluntary end.
	if err := c.lifecycle.Adopt(s); err != nil {
		return err
	}
	if _, err := c.lifecycle.End(ctx, s.CreatorID); err != nil {
		return err
	}
	report.ForceEnded++
	c.logger.Info("stale session force-ended",
		zap.String("session_id", s.ID.String()),
		zap.String("creator_id", s.CreatorID.String()),
		zap.Duration("heartbeat_age", c.now().Sub(s.LastHeartbeatAt)))
	return nil
}
