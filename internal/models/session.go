package models

import (
	"time"
)

// Session is an authenticated session as held in memory and in the
// persistent cache. ExpiresAt is always absolute so a session read back
// after a restart is judged against wall-clock time.
type Session struct {
	Token     string
	User      *User
	ExpiresAt time.Time
}

// IsExpired returns true if the session has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Valid reports whether every field is present and the session is still
// live at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && s.User.Valid() && !s.IsExpired(now)
}
