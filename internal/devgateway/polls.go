package devgateway

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfeidau/pollbooth/internal/auth"
	apihttp "github.com/wolfeidau/pollbooth/internal/http"
	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/session"
)

type pollRecord struct {
	poll  models.Poll
	votes map[string]string // user id -> option id
}

func newPollRecords(fixtures []PollFixture, start time.Time) []*pollRecord {
	records := make([]*pollRecord, 0, len(fixtures))
	for _, f := range fixtures {
		opens := start.Add(f.OpensIn).Truncate(time.Second)
		records = append(records, &pollRecord{
			poll: models.Poll{
				ID:       f.ID,
				Title:    f.Title,
				StartsAt: opens,
				EndsAt:   opens.Add(f.Duration),
				Options:  append([]models.PollOption(nil), f.Options...),
			},
			votes: make(map[string]string),
		})
	}
	return records
}

// view renders the poll for a user. Tallies are shown to admins, and to
// everyone once the poll has closed. Caller holds s.mu.
func (p *pollRecord) view(claims *session.Claims, now time.Time) models.Poll {
	out := p.poll
	out.Options = make([]models.PollOption, len(p.poll.Options))

	switch {
	case now.Before(out.StartsAt):
		out.Status = models.PollStatusScheduled
	case now.Before(out.EndsAt):
		out.Status = models.PollStatusOpen
	default:
		out.Status = models.PollStatusClosed
	}

	showTally := claims.IsAdmin || out.Status == models.PollStatusClosed
	for i, o := range p.poll.Options {
		out.Options[i] = models.PollOption{ID: o.ID, Label: o.Label}
		if showTally {
			for _, voted := range p.votes {
				if voted == o.ID {
					out.Options[i].Votes++
				}
			}
		}
	}

	out.VotedFor = p.votes[claims.UserID]
	return out
}

func (s *Server) findPoll(id string) (*pollRecord, bool) {
	for _, p := range s.polls {
		if p.poll.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	now := s.clock.Now()

	s.mu.Lock()
	polls := make([]models.Poll, 0, len(s.polls))
	for _, p := range s.polls {
		polls = append(polls, p.view(claims, now))
	}
	s.mu.Unlock()

	writeCacheable(w, r, map[string]any{"polls": polls})
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	s.mu.Lock()
	p, ok := s.findPoll(chi.URLParam(r, "id"))
	var view models.Poll
	if ok {
		view = p.view(claims, s.clock.Now())
	}
	s.mu.Unlock()

	if !ok {
		apihttp.WriteError(w, http.StatusNotFound, "poll not found")
		return
	}

	writeCacheable(w, r, view)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req struct {
		OptionID string `json:"option_id"`
	}
	if !apihttp.DecodeJSON(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.findPoll(chi.URLParam(r, "id"))
	if !ok {
		apihttp.WriteError(w, http.StatusNotFound, "poll not found")
		return
	}

	view := p.view(claims, s.clock.Now())
	switch {
	case view.Status != models.PollStatusOpen:
		apihttp.WriteError(w, http.StatusConflict, fmt.Sprintf("poll is %s", view.Status))
		return
	case view.VotedFor != "":
		apihttp.WriteError(w, http.StatusConflict, "you have already voted")
		return
	case !view.HasOption(req.OptionID):
		apihttp.WriteError(w, http.StatusBadRequest, "unknown option")
		return
	}

	p.votes[claims.UserID] = req.OptionID

	s.logger.Info().Str("poll", p.poll.ID).Str("user", claims.UserID).Msg("vote cast")

	apihttp.WriteJSON(w, http.StatusOK, p.view(claims, s.clock.Now()))
}

// writeCacheable writes v with a content ETag so clients can revalidate
// instead of refetching.
func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		apihttp.WriteError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	sum := sha256.Sum256(body)
	etag := fmt.Sprintf(`"%x"`, sum[:12])

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("Vary", "Authorization")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
