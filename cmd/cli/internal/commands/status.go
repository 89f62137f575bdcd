package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/pollbooth/internal/session"
)

type StatusCmd struct {
	Output string `short:"o" help:"Output format (text, json, yaml)" default:"text" enum:"text,json,yaml"`
}

// statusView is the printable form of a session. The token itself is
// never printed, only its fingerprint.
type statusView struct {
	Authenticated bool      `json:"authenticated" yaml:"authenticated"`
	Server        string    `json:"server" yaml:"server"`
	UserID        string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Name          string    `json:"name,omitempty" yaml:"name,omitempty"`
	EmpID         string    `json:"emp_id,omitempty" yaml:"emp_id,omitempty"`
	Email         string    `json:"email,omitempty" yaml:"email,omitempty"`
	Role          string    `json:"role,omitempty" yaml:"role,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
	ExpiresIn     string    `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	Fingerprint   string    `json:"token_fingerprint,omitempty" yaml:"token_fingerprint,omitempty"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.store.Restore(ctx)

	return writeStatus(os.Stdout, s.Output, newStatusView(a.config.ServerURL, st, time.Now()))
}

func newStatusView(server string, st session.State, now time.Time) statusView {
	v := statusView{Authenticated: st.IsAuthenticated, Server: server}
	if !st.IsAuthenticated {
		return v
	}

	v.UserID = st.User.ID
	v.Name = st.User.Name
	v.EmpID = st.User.EmpID
	v.Email = st.User.Email
	v.Role = st.User.Role()
	v.ExpiresAt = st.ExpiresAt
	v.ExpiresIn = st.ExpiresAt.Sub(now).Truncate(time.Second).String()
	v.Fingerprint = session.Fingerprint(st.Token)

	return v
}

func writeStatus(w io.Writer, format string, v statusView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	}

	if !v.Authenticated {
		_, err := fmt.Fprintf(w, "Not logged in to %s\n", v.Server)
		return err
	}

	_, err := fmt.Fprintf(w,
		"Logged in to %s\n  User:        %s (%s)\n  Employee id: %s\n  Email:       %s\n  Role:        %s\n  Expires:     %s (in %s)\n  Token:       %s\n",
		v.Server, v.Name, v.UserID, v.EmpID, v.Email, v.Role,
		v.ExpiresAt.Local().Format(time.RFC3339), v.ExpiresIn, v.Fingerprint)
	return err
}
