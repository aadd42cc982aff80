package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoReply is an ephemeral short clip a viewer posts into a session. The
// clip and thumbnail live in the blob store under ClipKey/ThumbKey and are
// deleted together with the row when the session is purged.
type VideoReply struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	ClipKey   string    `json:"clip_key"`
	ThumbKey  string    `json:"thumb_key"`
	CreatedAt time.Time `json:"created_at"`
}
