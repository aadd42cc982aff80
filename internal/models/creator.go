package models

import (
	"time"

	"github.com/google/uuid"
)

// Creator is an account that can broadcast and watch sessions.
type Creator struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Password       string    `json:"-"`
	DisplayName    string    `json:"display_name"`
	CommunityLevel int       `json:"community_level"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreatorPublic is the creator shape returned by the API (no credentials).
type CreatorPublic struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	CommunityLevel int       `json:"community_level"`
	CreatedAt      time.Time `json:"created_at"`
}

// Public strips credential fields.
func (c *Creator) Public() CreatorPublic {
	return CreatorPublic{
		ID:             c.ID,
		Email:          c.Email,
		DisplayName:    c.DisplayName,
		CommunityLevel: c.CommunityLevel,
		CreatedAt:      c.CreatedAt,
	}
}
