package commands

import (
	"context"
	"errors"
	"fmt"
)

// ProfileCmd edits the display name and email held by the session. The
// server is not updated; the change lasts until the session ends.
type ProfileCmd struct {
	Name  string `help:"Display name"`
	Email string `help:"Contact email"`
}

func (p *ProfileCmd) Run(ctx context.Context, globals *Globals) error {
	if p.Name == "" && p.Email == "" {
		return errors.New("nothing to change, pass --name or --email")
	}

	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.requireSession(ctx)
	if err != nil {
		return err
	}

	user := *st.User
	if p.Name != "" {
		user.Name = p.Name
	}
	if p.Email != "" {
		user.Email = p.Email
	}

	if err := a.store.EditUser(ctx, &user); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	fmt.Printf("Profile updated: %s <%s>\n", user.Name, user.Email)
	return nil
}
