package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is an ephemeral per-session chat line, deleted when the session
// is purged.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}
