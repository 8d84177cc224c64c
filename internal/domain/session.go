package domain

import "time"

// SessionRef identifies a persisted conversation on the backend.
type SessionRef struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
