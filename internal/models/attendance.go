package models

import (
	"time"

	"github.com/google/uuid"
)

// Attendance tracks one participant in one session. Watch time and interaction
// counts are only ever written through buffered atomic increments, so rows may
// lag local state by up to one flush interval.
type Attendance struct {
	SessionID           uuid.UUID  `json:"session_id"`
	ParticipantID       uuid.UUID  `json:"participant_id"`
	JoinedAt            time.Time  `json:"joined_at"`
	LastHeartbeatAt     time.Time  `json:"last_heartbeat_at"`
	WatchSeconds        int64      `json:"watch_seconds"`
	InteractionCount    int64      `json:"interaction_count"`
	Idle                bool       `json:"idle"`
	XPMultiplier        float64    `json:"xp_multiplier"`
	MultiplierExpiresAt *time.Time `json:"multiplier_expires_at,omitempty"`
}
