package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_Valid(t *testing.T) {
	now := time.Now()
	user := &User{ID: "u1", Name: "Ada", EmpID: "E100"}

	assert.True(t, (&Session{Token: "t", User: user, ExpiresAt: now.Add(time.Minute)}).Valid(now))
	assert.False(t, (&Session{Token: "t", User: user, ExpiresAt: now}).Valid(now))
	assert.False(t, (&Session{Token: "", User: user, ExpiresAt: now.Add(time.Minute)}).Valid(now))
	assert.False(t, (&Session{Token: "t", ExpiresAt: now.Add(time.Minute)}).Valid(now))

	var nilSession *Session
	assert.False(t, nilSession.Valid(now))
}

func TestUser_Role(t *testing.T) {
	assert.Equal(t, "admin", (&User{IsAdmin: true}).Role())
	assert.Equal(t, "voter", (&User{}).Role())

	var nilUser *User
	assert.Equal(t, "voter", nilUser.Role())
	assert.False(t, nilUser.Valid())
}

func TestPoll_Remaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	open := Poll{StartsAt: now.Add(-time.Hour), EndsAt: now.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, open.Remaining(now))

	scheduled := Poll{StartsAt: now.Add(time.Minute), EndsAt: now.Add(time.Hour)}
	assert.Equal(t, time.Minute, scheduled.Remaining(now))

	closed := Poll{StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour)}
	assert.Zero(t, closed.Remaining(now))
}
