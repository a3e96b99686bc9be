package model

import (
	"time"
)

// Session maps a caller's session key onto a remote conversation thread.
type Session struct {
	Key       string    `json:"key"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Turns     int       `json:"turns"`
}

// Expired reports whether the mapping is past its lifetime.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
