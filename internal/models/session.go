package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionLive    SessionStatus = "live"
	SessionEnded   SessionStatus = "ended"
	SessionCrashed SessionStatus = "crashed"
)

// Session is one live broadcast instance.
type Session struct {
	ID                 uuid.UUID     `json:"id"`
	CreatorID          uuid.UUID     `json:"creator_id"`
	Tier               int           `json:"tier"`
	Status             SessionStatus `json:"status"`
	ViewerCount        int           `json:"viewer_count"`
	PeakViewerCount    int           `json:"peak_viewer_count"`
	TotalCoinsSpent    int64         `json:"total_coins_spent"`
	TotalHypeEvents    int64         `json:"total_hype_events"`
	ExtensionSeconds   int           `json:"extension_seconds"`
	MaxDurationSeconds int           `json:"max_duration_seconds"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	LastHeartbeatAt    time.Time     `json:"last_heartbeat_at"`
}

// Elapsed returns how long the session has been running at the given instant.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
