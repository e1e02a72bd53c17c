package models

import (
	"github.com/google/uuid"
)

// UserProfile is the public identity snapshot copied onto a participant at join time.
type UserProfile struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
