// Package domain contains core domain types for the companion server.
package domain

import (
	"time"
)

// User represents a user in the system with a pointer to their active conversation.
type User struct {
	UserID          string    `json:"user_id"`
	Username        string    `json:"username"`
	ActiveSessionID string    `json:"active_session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasActiveSession returns true if the user currently talks to a persona.
func (u *User) HasActiveSession() bool {
	return u.ActiveSessionID != ""
}
