package models

import (
	"time"

	"github.com/google/uuid"
)

// CompletionRecord is the durable receipt of a finished session. It is the
// only per-session record that survives the post-end purge, and it is never
// mutated once written.
type CompletionRecord struct {
	ID               uuid.UUID `json:"id"`
	CreatorID        uuid.UUID `json:"creator_id"`
	SessionID        uuid.UUID `json:"session_id"`
	Tier             int       `json:"tier"`
	DurationSeconds  int       `json:"duration_seconds"`
	IsFullCompletion bool      `json:"is_full_completion"`
	PeakViewerCount  int       `json:"peak_viewer_count"`
	CoinsEarned      int64     `json:"coins_earned"`
	CompletedAt      time.Time `json:"completed_at"`
	CountsTowardGate bool      `json:"counts_toward_gate"`
}
