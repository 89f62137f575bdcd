package models

import "time"

// Poll states as reported by the backend.
const (
	PollStatusScheduled = "scheduled"
	PollStatusOpen      = "open"
	PollStatusClosed    = "closed"
)

// Poll is a voting poll as returned by the polls API.
type Poll struct {
	ID       string       `json:"id" yaml:"id"`
	Title    string       `json:"title" yaml:"title"`
	Status   string       `json:"status" yaml:"status"`
	StartsAt time.Time    `json:"starts_at" yaml:"starts_at"`
	EndsAt   time.Time    `json:"ends_at" yaml:"ends_at"`
	Options  []PollOption `json:"options" yaml:"options"`
	VotedFor string       `json:"voted_for,omitempty" yaml:"voted_for,omitempty"`
}

// PollOption is a single choice in a poll.
type PollOption struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Votes int    `json:"votes,omitempty" yaml:"votes,omitempty"`
}

// Remaining returns the time left until the poll closes, or until it
// opens for scheduled polls. Zero once the relevant timestamp has passed.
func (p *Poll) Remaining(now time.Time) time.Duration {
	target := p.EndsAt
	if now.Before(p.StartsAt) {
		target = p.StartsAt
	}
	if d := target.Sub(now); d > 0 {
		return d
	}
	return 0
}

// HasOption reports whether optionID belongs to the poll.
func (p *Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
